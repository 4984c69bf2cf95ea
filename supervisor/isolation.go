package main

import (
	"fmt"
	"runtime"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// EnforceIsolation hardens the process before any key material exists.
// Failures are logged and tolerated; the enclave itself provides the
// hardware boundary and some of these calls are not permitted inside it.
func EnforceIsolation(devMode bool) {
	if devMode {
		log.Warn().Msg("SECURITY WARNING: Running in dev mode, isolation not enforced")
		return
	}
	if runtime.GOOS != "linux" {
		log.Warn().Str("os", runtime.GOOS).Msg("Process isolation only supported on Linux")
		return
	}

	if err := setNoNewPrivs(); err != nil {
		log.Warn().Err(err).Msg("Failed to set no_new_privs")
	} else {
		log.Info().Msg("Set no_new_privs flag")
	}

	if err := disableCoreDumps(); err != nil {
		log.Warn().Err(err).Msg("Failed to disable core dumps")
	} else {
		log.Info().Msg("Disabled core dumps")
	}

	// Seeds and data keys must never reach swap
	if err := lockMemory(); err != nil {
		log.Warn().Err(err).Msg("Failed to lock memory (mlockall)")
	} else {
		log.Info().Msg("Memory locked (mlockall)")
	}
}

// VerifyIsolation reports whether the hardening applied by EnforceIsolation is in effect
func VerifyIsolation() error {
	if runtime.GOOS != "linux" {
		return nil
	}

	nnp, err := unix.PrctlRetInt(unix.PR_GET_NO_NEW_PRIVS, 0, 0, 0, 0)
	if err != nil {
		return fmt.Errorf("cannot check no_new_privs: %w", err)
	}
	if nnp == 0 {
		return fmt.Errorf("no_new_privs is not set")
	}

	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_CORE, &rlim); err != nil {
		return fmt.Errorf("cannot check RLIMIT_CORE: %w", err)
	}
	if rlim.Cur != 0 || rlim.Max != 0 {
		return fmt.Errorf("core dumps are enabled")
	}
	return nil
}

func setNoNewPrivs() error {
	return unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0)
}

func disableCoreDumps() error {
	return unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: 0, Max: 0})
}

func lockMemory() error {
	return unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE)
}

package main

import (
	"fmt"
	"os"

	"github.com/hf/nsm"
	"github.com/hf/nsm/request"
	"github.com/rs/zerolog/log"
)

const nsmDevice = "/dev/nsm"

// isNitroEnclave checks for the Nitro Secure Module device
func isNitroEnclave() bool {
	_, err := os.Stat(nsmDevice)
	return err == nil
}

// describeNSM logs the Nitro Secure Module description. It is informational:
// the service does not produce or check attestation documents.
func describeNSM() error {
	if !isNitroEnclave() {
		log.Warn().Msg("NSM device not found, not running in a Nitro enclave")
		return nil
	}

	sess, err := nsm.OpenDefaultSession()
	if err != nil {
		return fmt.Errorf("failed to open NSM session: %w", err)
	}
	defer sess.Close()

	res, err := sess.Send(&request.DescribeNSM{})
	if err != nil {
		return fmt.Errorf("failed to describe NSM: %w", err)
	}
	if res.Error != "" {
		return fmt.Errorf("NSM returned an error: %s", res.Error)
	}
	if res.DescribeNSM == nil {
		return fmt.Errorf("NSM returned an empty description")
	}

	log.Info().
		Str("module_id", res.DescribeNSM.ModuleID).
		Str("digest", string(res.DescribeNSM.Digest)).
		Uint16("max_pcrs", res.DescribeNSM.MaxPCRs).
		Msg("Nitro Secure Module available")
	return nil
}

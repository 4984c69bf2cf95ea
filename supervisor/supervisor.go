package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Supervisor owns the listener and hands every accepted connection to the
// dispatcher on its own goroutine. Connections share no state.
type Supervisor struct {
	config     *Config
	dispatcher *Dispatcher
	listener   Listener

	wg sync.WaitGroup
}

// NewSupervisor creates a new enclave supervisor
func NewSupervisor(cfg *Config, dispatcher *Dispatcher) (*Supervisor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	return &Supervisor{config: cfg, dispatcher: dispatcher}, nil
}

// Run opens the listener and serves until ctx is cancelled
func (s *Supervisor) Run(ctx context.Context) error {
	l, err := newListener(s.config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections from l until ctx is cancelled. It closes l and
// waits for in-flight connections before returning.
func (s *Supervisor) Serve(ctx context.Context, l Listener) error {
	s.listener = l

	log.Info().
		Bool("dev_mode", s.config.DevMode).
		Str("addr", l.Addr().String()).
		Msg("Enclave listening")

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			log.Info().Msg("Enclave shutting down")
		case <-stop:
		}
		l.Close()
	}()
	defer close(stop)

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			log.Error().Err(err).Msg("Accept error")
			// Back off so a persistent accept failure does not spin
			select {
			case <-ctx.Done():
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}

	s.wg.Wait()
	return nil
}

// handleConnection serves exactly one request on conn and closes it
func (s *Supervisor) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	connID := uuid.NewString()
	logger := log.With().Str("conn_id", connID).Logger()
	// Shutdown stops accepting; a request already read still runs to completion
	ctx = logger.WithContext(context.WithoutCancel(ctx))

	logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Accepted host connection")

	if err := s.dispatcher.Serve(ctx, conn); err != nil {
		logger.Debug().Err(err).Msg("Connection ended with error")
		return
	}
	logger.Debug().Msg("Connection closed")
}

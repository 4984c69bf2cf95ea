package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xes-software/trustvault/signing"
	"github.com/xes-software/trustvault/transport"
)

const (
	opCreateWallet = "create"
	opSign         = "sign"

	// errorKindUnavailable is reported when the enclave could not be reached
	errorKindUnavailable = "Unavailable"
)

// messageBus is the part of NATSClient the bridge depends on
type messageBus interface {
	QueueSubscribe(subject, queue string, msgChan chan *NATSMessage) error
	Publish(subject string, data []byte) error
}

// SignPayload is the JSON body of a sign request
type SignPayload struct {
	Record          *transport.CreateWalletData `json:"record"`
	SignatureScheme signing.Scheme              `json:"signature_scheme"`
	Message         []byte                      `json:"message"`
}

// BridgeReply is the JSON body published to the reply subject
type BridgeReply struct {
	RequestID string                      `json:"request_id"`
	Wallet    *transport.CreateWalletData `json:"wallet,omitempty"`
	Signature *transport.SignData         `json:"signature,omitempty"`
	Error     *ReplyError                 `json:"error,omitempty"`
}

// ReplyError mirrors transport.WalletError for NATS callers
type ReplyError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Bridge answers wallet requests arriving on NATS by forwarding them to the enclave.
// The parent only ever handles sealed records, never key material.
type Bridge struct {
	bus     messageBus
	wallets WalletService
	metrics *Metrics
	health  *HealthServer
	prefix  string
	queue   string
	wg      sync.WaitGroup
}

// NewBridge creates a bridge. health may be nil.
func NewBridge(bus messageBus, wallets WalletService, metrics *Metrics, health *HealthServer, cfg NATSConfig) *Bridge {
	return &Bridge{
		bus:     bus,
		wallets: wallets,
		metrics: metrics,
		health:  health,
		prefix:  cfg.SubjectPrefix,
		queue:   cfg.QueueGroup,
	}
}

func (b *Bridge) subject(op string) string {
	return b.prefix + "." + op
}

// Run subscribes to the wallet subjects and serves until ctx is cancelled.
// In-flight requests are allowed to finish before it returns.
func (b *Bridge) Run(ctx context.Context) error {
	msgChan := make(chan *NATSMessage, 100)

	for _, op := range []string{opCreateWallet, opSign} {
		if err := b.bus.QueueSubscribe(b.subject(op), b.queue, msgChan); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", b.subject(op), err)
		}
	}
	log.Info().
		Str("create_subject", b.subject(opCreateWallet)).
		Str("sign_subject", b.subject(opSign)).
		Str("queue", b.queue).
		Msg("Bridge subscribed")

	for {
		select {
		case <-ctx.Done():
			b.wg.Wait()
			return nil
		case msg := <-msgChan:
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.serve(ctx, msg)
			}()
		}
	}
}

func (b *Bridge) serve(ctx context.Context, msg *NATSMessage) {
	reply := b.handle(ctx, msg)
	if msg.Reply == "" {
		log.Warn().Str("subject", msg.Subject).Msg("Request without reply subject, result dropped")
		return
	}

	data, err := json.Marshal(reply)
	if err != nil {
		log.Error().Err(err).Str("request_id", reply.RequestID).Msg("Failed to encode reply")
		return
	}
	if err := b.bus.Publish(msg.Reply, data); err != nil {
		log.Error().Err(err).Str("reply", msg.Reply).Msg("Failed to publish reply")
	}
}

func (b *Bridge) handle(ctx context.Context, msg *NATSMessage) *BridgeReply {
	reply := &BridgeReply{RequestID: uuid.NewString()}
	logger := log.With().Str("request_id", reply.RequestID).Str("subject", msg.Subject).Logger()

	var op string
	var err error
	start := time.Now()

	switch msg.Subject {
	case b.subject(opCreateWallet):
		op = opCreateWallet
		reply.Wallet, err = b.wallets.CreateWallet(ctx)

	case b.subject(opSign):
		op = opSign
		var payload SignPayload
		if jerr := json.Unmarshal(msg.Data, &payload); jerr != nil {
			reply.Error = &ReplyError{Kind: string(transport.InvalidRequest), Message: fmt.Sprintf("invalid sign payload: %v", jerr)}
			logger.Warn().Err(jerr).Msg("Rejected sign request")
			return reply
		}
		if payload.Record == nil {
			reply.Error = &ReplyError{Kind: string(transport.InvalidRequest), Message: "sign payload has no record"}
			return reply
		}
		reply.Signature, err = b.wallets.Sign(ctx, payload.Record, payload.SignatureScheme, payload.Message)

	default:
		reply.Error = &ReplyError{Kind: string(transport.InvalidRequest), Message: fmt.Sprintf("unknown subject %q", msg.Subject)}
		return reply
	}

	if b.metrics != nil {
		b.metrics.Observe(op, start, err)
	}
	if b.health != nil {
		b.health.RecordEnclaveResult(err)
	}

	if err != nil {
		reply.Wallet, reply.Signature = nil, nil
		reply.Error = replyError(err)
		logger.Warn().Str("error_kind", reply.Error.Kind).Err(err).Msg("Wallet request failed")
		return reply
	}

	logger.Info().Str("op", op).Dur("elapsed", time.Since(start)).Msg("Wallet request served")
	return reply
}

func replyError(err error) *ReplyError {
	var werr *transport.WalletError
	if errors.As(err, &werr) {
		return &ReplyError{Kind: string(werr.Kind), Message: werr.Message}
	}
	return &ReplyError{Kind: errorKindUnavailable, Message: err.Error()}
}

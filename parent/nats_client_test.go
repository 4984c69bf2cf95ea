package main

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNATSClientStartsWithoutBroker(t *testing.T) {
	var mu sync.Mutex
	var states []bool
	onStatus := func(connected bool) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, connected)
	}

	cfg := DefaultConfig().NATS
	// Nothing listens on port 1
	cfg.URL = "nats://127.0.0.1:1"
	cfg.ReconnectWait = 50

	nc, err := NewNATSClient(cfg, onStatus)
	require.NoError(t, err)
	assert.False(t, nc.IsConnected())
	assert.NotEqual(t, "connected", nc.Status())

	mu.Lock()
	require.NotEmpty(t, states)
	assert.False(t, states[0])
	mu.Unlock()

	msgChan := make(chan *NATSMessage, 1)
	require.NoError(t, nc.QueueSubscribe("trustvault.wallet.sign", "trustvault-parent", msgChan))
	require.Len(t, nc.subs, 1)
	sub := nc.subs[0]

	nc.Close()
	assert.Equal(t, "closed", nc.Status())
	assert.False(t, sub.IsValid())
	assert.Empty(t, nc.subs)
	assert.False(t, nc.IsConnected())
}

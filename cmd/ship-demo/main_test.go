package main

import (
	"context"
	"errors"
	"testing"

	"ship-client/config"
	"ship-client/registry"
	"ship-client/shiperr"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapRegistry serves Discover from a fixed table.
type mapRegistry struct {
	registry.Registry
	entries map[string][]registry.ServiceInstance
}

func (m mapRegistry) Discover(_ context.Context, serviceName string) ([]registry.ServiceInstance, error) {
	if serviceName == ".order.broken:1.0" {
		return nil, errors.New("naming service unavailable")
	}
	return m.entries[serviceName], nil
}

func TestCheckVisible(t *testing.T) {
	self := registry.ServiceInstance{IP: "10.0.0.5", Port: 8080}
	other := registry.ServiceInstance{IP: "10.0.0.6", Port: 8080}
	reg := mapRegistry{entries: map[string][]registry.ServiceInstance{
		".order.orders:1.0":  {other, self},
		".order.version:1.0": {other},
	}}

	names := []string{".order.orders:1.0", ".order.version:1.0", ".order.missing:1.0", ".order.broken:1.0"}
	assert.Equal(t, 1, checkVisible(context.Background(), reg, names, self.Addr(), log.NewNopLogger()))
}

func TestNewRegistry_RejectsBadNamingConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Naming.Backend = "zookeeper"

	_, err := newRegistry(cfg, log.NewNopLogger())
	require.Error(t, err)
	assert.True(t, shiperr.IsConfigurationError(err))
}

// Package registry is the naming service the agent registers its routes with.
//
// An instance is either ephemeral or persistent. Ephemeral instances only stay visible
// while the process keeps renewing them, so a crashed process disappears from the
// naming service on its own once its TTL runs out.
package registry

import (
	"context"
	"net"
	"strconv"
)

// ServiceInstance describes one running process under a service name.
type ServiceInstance struct {
	IP        string            `json:"ip"`
	Port      int               `json:"port"`
	Ephemeral bool              `json:"ephemeral"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Addr returns "ip:port".
func (i ServiceInstance) Addr() string {
	return net.JoinHostPort(i.IP, strconv.Itoa(i.Port))
}

type Registry interface {
	// Register stores instance under serviceName. Safe for concurrent use.
	Register(ctx context.Context, serviceName string, instance ServiceInstance) error
	// Deregister removes instance from serviceName.
	Deregister(ctx context.Context, serviceName string, instance ServiceInstance) error
	// Discover returns every live instance of serviceName.
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Close stops renewing ephemeral instances and releases the connection.
	// Instances are left to expire rather than removed.
	Close() error
}

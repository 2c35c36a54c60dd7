package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestEtcd connects to ETCD_ENDPOINTS (default localhost:2379) and skips the test
// when no etcd answers.
func newTestEtcd(t *testing.T, ttl time.Duration) *EtcdRegistry {
	t.Helper()
	endpoints := []string{"127.0.0.1:2379"}
	if v := os.Getenv("ETCD_ENDPOINTS"); v != "" {
		endpoints = strings.Split(v, ",")
	}

	reg, err := NewEtcdRegistry(endpoints, "/ship-test-"+strings.ReplaceAll(t.Name(), "/", "_"), ttl, log.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := reg.client.Get(ctx, "/ship-test-ping"); err != nil {
		_ = reg.Close()
		t.Skipf("etcd not reachable at %v: %v", endpoints, err)
	}
	return reg
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg := newTestEtcd(t, 10*time.Second)
	defer reg.Close()
	ctx := context.Background()

	inst1 := ServiceInstance{IP: "127.0.0.1", Port: 8001, Ephemeral: true, Metadata: map[string]string{"version": "1.0"}}
	inst2 := ServiceInstance{IP: "127.0.0.1", Port: 8002, Ephemeral: false}

	require.NoError(t, reg.Register(ctx, ".svc.a:1.0", inst1))
	require.NoError(t, reg.Register(ctx, ".svc.a:1.0", inst2))

	instances, err := reg.Discover(ctx, ".svc.a:1.0")
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	require.NoError(t, reg.Deregister(ctx, ".svc.a:1.0", inst1))

	instances, err = reg.Discover(ctx, ".svc.a:1.0")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, inst2.Addr(), instances[0].Addr())

	require.NoError(t, reg.Deregister(ctx, ".svc.a:1.0", inst2))
}

func TestEtcdEphemeralShareLease(t *testing.T) {
	reg := newTestEtcd(t, 10*time.Second)
	defer reg.Close()
	ctx := context.Background()

	inst := ServiceInstance{IP: "127.0.0.1", Port: 8003, Ephemeral: true}
	require.NoError(t, reg.Register(ctx, ".svc.a:1.0", inst))
	first := reg.leaseID
	require.NoError(t, reg.Register(ctx, ".svc.b:1.0", inst))
	assert.NotZero(t, first)
	assert.Equal(t, first, reg.leaseID)
}

func TestEtcdEphemeralExpiresAfterClose(t *testing.T) {
	reg := newTestEtcd(t, time.Second)
	ctx := context.Background()

	inst := ServiceInstance{IP: "127.0.0.1", Port: 8004, Ephemeral: true}
	require.NoError(t, reg.Register(ctx, ".svc.gone:1.0", inst))
	require.NoError(t, reg.Close())

	observer := newTestEtcd(t, time.Second)
	observer.prefix = reg.prefix
	defer observer.Close()

	assert.Eventually(t, func() bool {
		instances, err := observer.Discover(ctx, ".svc.gone:1.0")
		return err == nil && len(instances) == 0
	}, 10*time.Second, 200*time.Millisecond)
}

func TestEtcdWatch(t *testing.T) {
	reg := newTestEtcd(t, 10*time.Second)
	defer reg.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := reg.Watch(ctx, ".svc.w:1.0")
	time.Sleep(100 * time.Millisecond)

	inst := ServiceInstance{IP: "127.0.0.1", Port: 8005}
	require.NoError(t, reg.Register(ctx, ".svc.w:1.0", inst))

	select {
	case instances := <-updates:
		require.Len(t, instances, 1)
		assert.Equal(t, inst.Addr(), instances[0].Addr())
	case <-time.After(5 * time.Second):
		t.Fatal("no watch update")
	}
	require.NoError(t, reg.Deregister(ctx, ".svc.w:1.0", inst))
}

func TestServiceInstanceAddr(t *testing.T) {
	assert.Equal(t, "10.0.0.1:8080", ServiceInstance{IP: "10.0.0.1", Port: 8080}.Addr())
	assert.Equal(t, "[::1]:8080", ServiceInstance{IP: "::1", Port: 8080}.Addr())
}

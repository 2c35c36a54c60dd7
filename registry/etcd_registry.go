package registry

// etcd is used as a distributed phonebook:
//
//	Key:   {prefix}/{ServiceName}/{ip:port}
//	Value: JSON-encoded ServiceInstance
//
// Ephemeral instances are attached to a lease that is kept alive for as long as the
// registry is open. If the process dies the lease expires and etcd drops the keys.
// If the lease is lost while the process is alive (outage longer than the TTL, revoke)
// a new one is granted and every ephemeral key is written again.

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// etcdClient is the subset of *clientv3.Client the registry uses.
type etcdClient interface {
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	KeepAlive(ctx context.Context, id clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
	Watch(ctx context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan
	Close() error
}

const maxRestoreBackoff = 5 * time.Second

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client etcdClient // thread-safe, shared by all registration goroutines
	prefix string
	ttl    time.Duration
	logger log.Logger

	mu        sync.Mutex
	leaseID   clientv3.LeaseID  // 0 until the first ephemeral Register and after a lease loss
	ephemeral map[string]string // key -> value, written again under a new lease
	ctx       context.Context   // owns the KeepAlive streams
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewEtcdRegistry connects to the given etcd endpoints. Ephemeral instances live for ttl
// after the last keepalive.
func NewEtcdRegistry(endpoints []string, prefix string, ttl time.Duration, logger log.Logger) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return newEtcdRegistry(c, prefix, ttl, logger), nil
}

func newEtcdRegistry(c etcdClient, prefix string, ttl time.Duration, logger log.Logger) *EtcdRegistry {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdRegistry{
		client:    c,
		prefix:    prefix,
		ttl:       ttl,
		logger:    log.WithPrefix(logger, "component", "EtcdRegistry"),
		ephemeral: make(map[string]string),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Register puts the instance under {prefix}/{serviceName}/{addr}.
//
// All ephemeral instances of this registry share one lease: every route of the process
// lives and dies together, and N routes cost one KeepAlive stream instead of N.
func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance) error {
	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}
	key := r.key(serviceName, instance.Addr())

	if !instance.Ephemeral {
		_, err = r.client.Put(ctx, key, string(val))
		return err
	}

	leaseID, err := r.lease(ctx)
	if err != nil {
		return err
	}
	// Tracked before the write so a lease loss in between still restores the key.
	r.mu.Lock()
	r.ephemeral[key] = string(val)
	r.mu.Unlock()

	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(leaseID)); err != nil {
		r.mu.Lock()
		delete(r.ephemeral, key)
		r.mu.Unlock()
		return err
	}
	return nil
}

// lease returns the shared lease, granting it and starting its renewal when there is none.
// The mutex makes concurrent first registrations agree on a single lease.
func (r *EtcdRegistry) lease(ctx context.Context) (clientv3.LeaseID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.leaseID != 0 {
		return r.leaseID, nil
	}
	if r.ctx.Err() != nil {
		return 0, fmt.Errorf("etcd registry is closed")
	}

	ttl := int64(r.ttl / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return 0, err
	}

	// KeepAlive must outlive the caller's ctx, so it runs on the registry's own context.
	ch, err := r.client.KeepAlive(r.ctx, lease.ID)
	if err != nil {
		return 0, err
	}
	r.wg.Add(1)
	go r.keepAlive(lease.ID, ch)

	r.leaseID = lease.ID
	return lease.ID, nil
}

// keepAlive drains the renewal responses of id. The channel closes when the registry is
// closed or when etcd gave up on the lease; in the second case the keys are restored.
func (r *EtcdRegistry) keepAlive(id clientv3.LeaseID, ch <-chan *clientv3.LeaseKeepAliveResponse) {
	defer r.wg.Done()
	for range ch {
	}
	if r.ctx.Err() != nil {
		return
	}

	level.Warn(r.logger).Log("msg", "Lease keepalive stopped, granting a new lease", "lease", int64(id))
	r.mu.Lock()
	if r.leaseID == id {
		r.leaseID = 0
	}
	r.mu.Unlock()

	backoff := 100 * time.Millisecond
	for {
		n, err := r.restore()
		if err == nil {
			level.Info(r.logger).Log("msg", "Ephemeral instances restored", "keys", n)
			return
		}
		level.Warn(r.logger).Log("msg", "Restore failed", "err", err, "retry_in", backoff)

		select {
		case <-r.ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxRestoreBackoff {
			backoff = maxRestoreBackoff
		}
	}
}

// restore writes every tracked ephemeral key under the current lease.
func (r *EtcdRegistry) restore() (int, error) {
	ctx, cancel := context.WithTimeout(r.ctx, maxRestoreBackoff)
	defer cancel()

	leaseID, err := r.lease(ctx)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	entries := make(map[string]string, len(r.ephemeral))
	for k, v := range r.ephemeral {
		entries[k] = v
	}
	r.mu.Unlock()

	for key, val := range entries {
		if _, err := r.client.Put(ctx, key, val, clientv3.WithLease(leaseID)); err != nil {
			return 0, fmt.Errorf("can't restore %s: %w", key, err)
		}
	}
	return len(entries), nil
}

// Deregister removes a single instance key.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, instance ServiceInstance) error {
	key := r.key(serviceName, instance.Addr())

	r.mu.Lock()
	delete(r.ephemeral, key)
	r.mu.Unlock()

	_, err := r.client.Delete(ctx, key)
	return err
}

// Discover returns all instances stored under {prefix}/{serviceName}/.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, r.servicePrefix(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // Skip malformed entries
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch emits the full instance list of serviceName whenever it changes
// (registration, deregistration or lease expiry). The channel closes with ctx.
func (r *EtcdRegistry) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, r.servicePrefix(serviceName), clientv3.WithPrefix())
		for range watchChan {
			// Re-fetching is simpler than applying individual events.
			instances, err := r.Discover(ctx, serviceName)
			if err != nil {
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close stops the KeepAlive streams and closes the client. The lease is not revoked:
// ephemeral keys disappear when it expires.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()

	err := r.client.Close()
	r.wg.Wait()
	return err
}

func (r *EtcdRegistry) servicePrefix(serviceName string) string {
	return r.prefix + "/" + serviceName + "/"
}

func (r *EtcdRegistry) key(serviceName, addr string) string {
	return r.servicePrefix(serviceName) + addr
}

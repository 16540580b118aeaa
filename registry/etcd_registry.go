// etcd-backed implementation of the Registry interface.
//
// Layout:
//
//	Key:   /post-rpc/peers/{name}/{origin}
//	Value: JSON-encoded Peer
//
// Entries are held by TTL leases with background KeepAlive, so a context that
// dies without deregistering falls out of the directory when its lease
// expires.
package registry

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/post-rpc/peers/"

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

// Register advertises peer under name with a TTL lease and starts background
// lease renewal. The lease ID stays local to this call so concurrent
// registrations through one EtcdRegistry don't race.
func (r *EtcdRegistry) Register(name string, peer Peer, ttl int64) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(peer)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, keyPrefix+name+"/"+peer.Origin, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Drain KeepAlive responses so the channel never fills up.
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes one advertised origin for name.
func (r *EtcdRegistry) Deregister(name string, origin string) error {
	_, err := r.client.Delete(context.TODO(), keyPrefix+name+"/"+origin)
	return err
}

// Discover returns every peer currently advertised under name.
func (r *EtcdRegistry) Discover(name string) ([]Peer, error) {
	resp, err := r.client.Get(context.TODO(), keyPrefix+name+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	peers := make([]Peer, 0)
	for _, kv := range resp.Kvs {
		var p Peer
		if err := json.Unmarshal(kv.Value, &p); err != nil {
			continue // skip malformed entries
		}
		peers = append(peers, p)
	}
	return peers, nil
}

// Watch re-fetches and emits the full peer list for name on every change
// under its prefix — registrations, withdrawals, and lease expirations alike.
func (r *EtcdRegistry) Watch(name string) <-chan []Peer {
	ctx := context.TODO()
	ch := make(chan []Peer, 1)

	go func() {
		watchChan := r.client.Watch(ctx, keyPrefix+name+"/", clientv3.WithPrefix())
		for range watchChan {
			peers, _ := r.Discover(name)
			ch <- peers
		}
	}()

	return ch
}

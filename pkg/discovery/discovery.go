// Package discovery is cross-process bootstrap plumbing: it lets
// independently-started processes register and find each other's
// addresses in etcd. cmd/demo uses it after constructing its
// member.Member, only to register itself and log peer changes. It has no
// role in leadership itself -- that's decided entirely by pkg/flock's
// election state machine, never by an etcd lease.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const nodePrefix = "/flock/nodes/"

// NewClient dials endpoints for discovery use. Separate from
// transport.NewEtcd's client because a process may want to discover
// peers without necessarily also running the etcd Transport variant.
func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// RegisterNode leases nodePrefix+id -> addr with a ttlSeconds lease and
// keeps it alive for the lifetime of ctx. Cancel the returned
// CancelFunc to stop the keepalive and let the lease expire.
func RegisterNode(ctx context.Context, cli *clientv3.Client, id, addr string, ttlSeconds int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := cli.Grant(ctx, ttlSeconds)
	if err != nil {
		return 0, nil, fmt.Errorf("grant lease: %w", err)
	}

	key := nodePrefix + id
	if _, err := cli.Put(ctx, key, addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("put %s: %w", key, err)
	}

	keepCtx, cancel := context.WithCancel(ctx)
	keepAlive, err := cli.KeepAlive(keepCtx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("keepalive %s: %w", key, err)
	}
	go func() {
		for range keepAlive {
			// drain; nothing to do with each ack
		}
	}()

	return lease.ID, cancel, nil
}

// GetPeers lists the current nodePrefix keyspace once: id -> addr.
func GetPeers(ctx context.Context, cli *clientv3.Client) (map[string]string, error) {
	resp, err := cli.Get(ctx, nodePrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("get %s*: %w", nodePrefix, err)
	}
	peers := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := strings.TrimPrefix(string(kv.Key), nodePrefix)
		peers[id] = string(kv.Value)
	}
	return peers, nil
}

// WatchPeers streams the full nodePrefix keyspace to onChange every time
// any key under it changes (put or delete, including lease expiry). It
// first seeds the caller with a GetPeers snapshot, then re-snapshots on
// each watch event rather than trying to reconstruct state incrementally
// -- the keyspace is small (one entry per process) so a full re-list per
// event is simpler and cheap.
func WatchPeers(ctx context.Context, cli *clientv3.Client, onChange func(map[string]string)) error {
	peers, err := GetPeers(ctx, cli)
	if err != nil {
		return err
	}
	onChange(peers)

	watchCh := cli.Watch(ctx, nodePrefix, clientv3.WithPrefix())
	go func() {
		for resp := range watchCh {
			if resp.Err() != nil {
				continue
			}
			peers, err := GetPeers(ctx, cli)
			if err != nil {
				continue
			}
			onChange(peers)
		}
	}()
	return nil
}

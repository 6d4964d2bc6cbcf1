// Command demo boots one flock member behind an HTTP API. etcd
// bootstraps peer discovery and (when FLOCK_ETCD_ENDPOINTS is set) the
// cross-process transport; requests are serviced by whichever member
// currently holds leadership of the channel, and non-leader members
// forward over the fabric instead of dialing a specific address
// directly.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/ryandielhenn/flock/internal/telemetry"
	"github.com/ryandielhenn/flock/pkg/discovery"
	"github.com/ryandielhenn/flock/pkg/factory"
	"github.com/ryandielhenn/flock/pkg/flock"
	"github.com/ryandielhenn/flock/pkg/httpapi"
	"github.com/ryandielhenn/flock/pkg/member"
	"github.com/ryandielhenn/flock/pkg/store"
)

func main() {
	id := os.Getenv("SELF_ID")
	if id == "" {
		id = "node-" + fmt.Sprint(os.Getpid())
	}
	addr := os.Getenv("SELF_ADDR")
	if addr == "" {
		addr = "localhost:8080"
	}
	channel := os.Getenv("FLOCK_CHANNEL")
	if channel == "" {
		channel = flock.DefaultChannelName
	}

	var etcdEndpoints []string
	if v := os.Getenv("FLOCK_ETCD_ENDPOINTS"); v != "" {
		etcdEndpoints = strings.Split(v, ",")
	}

	s := store.New(64 << 20) // 64MB default cap
	debug := os.Getenv("FLOCK_DEBUG") == "1"

	f := factory.Default().Get(flock.Config{
		ChannelName:   channel,
		EtcdEndpoints: etcdEndpoints,
		Debug:         debug,
	})

	var api *httpapi.API
	m := member.New(f, member.WithID(id), member.WithDebug(debug), member.WithRequestHandler(func(payload json.RawMessage) (json.RawMessage, error) {
		return api.HandleLeaderRequest(payload)
	}))
	api = httpapi.New(m, s)

	if len(etcdEndpoints) > 0 {
		bootstrapPeers(etcdEndpoints, id, addr)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", api.Healthz)
	mux.HandleFunc("/info", api.Info)
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.Handle("/kv/", telemetry.Instrument("kv", http.HandlerFunc(api.KV)))

	log.Printf("flock demo node %s listening on %s (channel=%s)", id, addr, channel)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

// bootstrapPeers registers this node's address in etcd and logs
// (rather than acts on) peer membership changes: channel membership
// itself is handled entirely by member.Member/Flock over the etcd
// Transport variant, so this is purely informational.
func bootstrapPeers(endpoints []string, id, addr string) {
	cli, err := discovery.NewClient(endpoints)
	if err != nil {
		log.Printf("discovery client: %v", err)
		return
	}

	ctx := context.Background()
	// The keepalive must outlive this function -- it registers the
	// lease for the process's whole lifetime, not just bootstrap --
	// so cancel is deliberately not deferred here.
	if _, _, err := discovery.RegisterNode(ctx, cli, id, addr, 10); err != nil {
		log.Printf("register node: %v", err)
	}

	err = discovery.WatchPeers(ctx, cli, func(peers map[string]string) {
		for pid, paddr := range peers {
			log.Printf("[peers] %s -> %s", pid, httpapi.NormalizeHostPort(paddr, "8080"))
		}
	})
	if err != nil {
		log.Printf("watch peers: %v", err)
	}
}

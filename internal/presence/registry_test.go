package presence

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonm3D/hearsay/internal/bus"
	"github.com/jonm3D/hearsay/internal/config"
	"github.com/jonm3D/hearsay/internal/natsserver"
	"github.com/jonm3D/hearsay/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func connect(t *testing.T, url string) *bus.Client {
	t.Helper()
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{url}, ConnectTimeout: 2000}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRegistryDiscoversPeers(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	nodeCfg := func(id string) config.NodeConfig {
		return config.NodeConfig{ID: id, HeartbeatIntervalMS: 50, HeartbeatTimeoutMS: 200}
	}
	a, err := NewRegistry(context.Background(), nodeCfg("a"), protocol.Backends{LLM: "mock", TTS: "mock", Concurrency: 2}, connect(t, srv.ClientURL()), newLogger())
	if err != nil {
		t.Fatalf("registry a: %v", err)
	}
	defer a.Close()
	b, err := NewRegistry(context.Background(), nodeCfg("b"), protocol.Backends{LLM: "openai", TTS: "openai", Concurrency: 4}, connect(t, srv.ClientURL()), newLogger())
	if err != nil {
		t.Fatalf("registry b: %v", err)
	}

	eventually(t, func() bool { return len(a.Nodes()) == 2 && len(b.Nodes()) == 2 }, "expected both registries to see two nodes")
	eventually(t, a.Healthy, "expected node a healthy")

	nodes := a.Nodes()
	if nodes[1].ID != "b" || nodes[1].Backends.LLM != "openai" || nodes[1].Backends.Concurrency != 4 {
		t.Fatalf("unexpected peer record %+v", nodes[1])
	}

	b.Close()
	eventually(t, func() bool {
		for _, n := range a.Nodes() {
			if n.ID == "b" {
				return !n.Healthy
			}
		}
		return false
	}, "expected node b to go unhealthy after heartbeats stop")
}

func TestRegistryHeartbeatsWithDottedID(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	cfg := config.NodeConfig{ID: "host.example.com", HeartbeatIntervalMS: 50, HeartbeatTimeoutMS: 200}
	r, err := NewRegistry(context.Background(), cfg, protocol.Backends{LLM: "mock", TTS: "mock"}, connect(t, srv.ClientURL()), newLogger())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	defer r.Close()

	nodes := r.Nodes()
	if len(nodes) != 1 {
		t.Fatalf("expected self record, got %+v", nodes)
	}
	announced := nodes[0].LastSeen

	time.Sleep(600 * time.Millisecond)
	if !r.Healthy() {
		t.Fatal("expected node with dotted id to stay healthy while heartbeating")
	}
	nodes = r.Nodes()
	if len(nodes) != 1 || nodes[0].ID != "host.example.com" {
		t.Fatalf("unexpected nodes %+v", nodes)
	}
	if !nodes[0].LastSeen.After(announced) {
		t.Fatalf("expected heartbeats to refresh last seen, still %v", nodes[0].LastSeen)
	}
}

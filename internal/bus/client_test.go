package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonm3D/hearsay/internal/config"
	"github.com/jonm3D/hearsay/internal/natsserver"
	"github.com/nats-io/nats.go"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startClient(t *testing.T) *Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, newLogger())
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestPublishJSON(t *testing.T) {
	client := startClient(t)
	if !client.Healthy() {
		t.Fatal("expected healthy connection")
	}

	msgs := make(chan *nats.Msg, 1)
	sub, err := client.Conn().ChanSubscribe("test.subject", msgs)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if err := client.PublishJSON("test.subject", map[string]int{"seq": 3}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-msgs:
		var got map[string]int
		if err := json.Unmarshal(msg.Data, &got); err != nil || got["seq"] != 3 {
			t.Fatalf("unexpected payload %s (%v)", msg.Data, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestEnsureStreamIsIdempotent(t *testing.T) {
	client := startClient(t)
	for i := 0; i < 2; i++ {
		if err := client.EnsureStream("TEST", []string{"test.>"}, time.Hour); err != nil {
			t.Fatalf("ensure stream (%d): %v", i, err)
		}
	}
	info, err := client.JetStream().StreamInfo("TEST")
	if err != nil {
		t.Fatalf("stream info: %v", err)
	}
	if info.Config.MaxAge != time.Hour {
		t.Fatalf("unexpected max age %s", info.Config.MaxAge)
	}
}

func TestConnectRequiresServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, newLogger()); err == nil {
		t.Fatal("expected error without servers")
	}
}

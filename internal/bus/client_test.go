package bus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/config"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/natsserver"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/protocol"
	"github.com/matsuo-iguazu/watson-stt-comparison/internal/score"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBus(t *testing.T) (*Client, config.BusConfig) {
	t.Helper()
	cfg := config.BusConfig{
		Enabled:        true,
		Embedded:       true,
		Port:           -1,
		ConnectTimeout: 2000,
		SubjectPrefix:  "eval",
	}
	srv, err := natsserver.Start(cfg, newLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := Connect(context.Background(), cfg, srv.ClientURL(), newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client, cfg
}

func TestPublishSampleScored(t *testing.T) {
	client, _ := startBus(t)
	if !client.Healthy() {
		t.Fatal("expected healthy connection")
	}

	sub, err := client.Conn().SubscribeSync("eval.sample.scored")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	evt := protocol.SampleScored{
		RunID:  "run-1",
		Record: score.Record{SampleID: "s1", Model: "ja-JP", Correct: 3, ReferenceLength: 3},
	}
	if err := client.SampleScored(context.Background(), evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	var got protocol.SampleScored
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != "run-1" || got.Record.SampleID != "s1" || got.Record.Correct != 3 {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestRunCompletedFlushes(t *testing.T) {
	client, _ := startBus(t)
	sub, err := client.Conn().SubscribeSync("eval.>")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ctx := context.Background()
	if err := client.SampleFailed(ctx, protocol.SampleFailed{RunID: "r", SampleID: "s2", Reason: "boom"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := client.RunCompleted(ctx, protocol.RunCompleted{RunID: "r", Failed: 1}); err != nil {
		t.Fatalf("publish completed: %v", err)
	}

	want := []string{"eval.sample.failed", "eval.run.completed"}
	for _, subject := range want {
		msg, err := sub.NextMsg(2 * time.Second)
		if err != nil {
			t.Fatalf("waiting for %s: %v", subject, err)
		}
		if msg.Subject != subject {
			t.Fatalf("subject = %s, want %s", msg.Subject, subject)
		}
	}
}

func TestConnectWithoutServers(t *testing.T) {
	if _, err := Connect(context.Background(), config.BusConfig{}, "", newLogger()); err == nil {
		t.Fatal("expected error without servers")
	}
}

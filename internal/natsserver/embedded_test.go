package natsserver

import (
	"io"
	"log/slog"
	"testing"

	"github.com/matsuo-iguazu/watson-stt-comparison/internal/config"
)

func TestStartDisabled(t *testing.T) {
	srv, err := Start(config.BusConfig{Enabled: true, Embedded: false}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil || srv != nil {
		t.Fatalf("expected nil server without embedded mode, got %v %v", srv, err)
	}
	if srv.ClientURL() != "" {
		t.Fatal("nil server should have empty client url")
	}
	srv.Shutdown()
}

func TestStartEmbedded(t *testing.T) {
	srv, err := Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Shutdown()
	if srv.ClientURL() == "" {
		t.Fatal("expected client url")
	}
}

package httputil

import (
	"net/http"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Timeout != 300*time.Second {
		t.Errorf("expected 300s timeout, got %s", cfg.Timeout)
	}
	if cfg.ResponseHeaderTimeout != 30*time.Second {
		t.Errorf("expected 30s header timeout, got %s", cfg.ResponseHeaderTimeout)
	}
	if cfg.MaxIdleConnsPerHost != 10 {
		t.Errorf("expected 10 idle conns per host, got %d", cfg.MaxIdleConnsPerHost)
	}
}

func TestNewClient(t *testing.T) {
	client := NewClient(DefaultConfig())

	if client.Timeout != 300*time.Second {
		t.Errorf("expected 300s timeout, got %s", client.Timeout)
	}

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatal("expected *http.Transport")
	}
	if !transport.ForceAttemptHTTP2 {
		t.Error("expected HTTP/2 enabled")
	}
	if transport.IdleConnTimeout != 90*time.Second {
		t.Errorf("expected 90s idle timeout, got %s", transport.IdleConnTimeout)
	}
}

func TestDefaultClient(t *testing.T) {
	if DefaultClient() == nil {
		t.Fatal("expected a client")
	}
}

package listener

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// HTTPListener wraps a plain HTTP server as a Listener. The gateway's
// Listener data model carries no TLS fields, so unlike the teacher's
// version this never terminates TLS itself; operators who need it put a
// TLS-terminating proxy in front.
type HTTPListener struct {
	id      string
	address string
	server  *http.Server
}

// HTTPListenerConfig holds the tunables for one HTTP listener.
type HTTPListenerConfig struct {
	ID                string
	Address           string
	Handler           http.Handler
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ReadHeaderTimeout time.Duration
}

// NewHTTPListener builds an HTTPListener, applying the teacher's default
// timeouts where the caller leaves a field at its zero value.
func NewHTTPListener(cfg HTTPListenerConfig) (*HTTPListener, error) {
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 30 * time.Second
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 60 * time.Second
	}
	maxHeaderBytes := cfg.MaxHeaderBytes
	if maxHeaderBytes == 0 {
		maxHeaderBytes = 1 << 20
	}
	readHeaderTimeout := cfg.ReadHeaderTimeout
	if readHeaderTimeout == 0 {
		readHeaderTimeout = 10 * time.Second
	}

	return &HTTPListener{
		id:      cfg.ID,
		address: cfg.Address,
		server: &http.Server{
			Addr:              cfg.Address,
			Handler:           cfg.Handler,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
			MaxHeaderBytes:    maxHeaderBytes,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}, nil
}

func (h *HTTPListener) ID() string       { return h.id }
func (h *HTTPListener) Protocol() string { return "http" }
func (h *HTTPListener) Addr() string     { return h.address }

// Start binds the TCP listener and serves until the context is canceled
// or Stop is called. It blocks, so callers run it via Manager.StartAll.
func (h *HTTPListener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.address, err)
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			h.server.Shutdown(context.Background())
		case <-done:
		}
	}()
	if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully drains in-flight requests before returning.
func (h *HTTPListener) Stop(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// Server returns the underlying *http.Server.
func (h *HTTPListener) Server() *http.Server {
	return h.server
}

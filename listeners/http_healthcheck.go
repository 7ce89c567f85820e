// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: Derek Duncan

package listeners

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// HealthFn returns nil if the server can take new sessions, or the reason it cannot.
type HealthFn func() error

// healthStatus is the body of a healthcheck response.
type healthStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HTTPHealthCheck is a listener serving an HTTP healthcheck endpoint. It
// answers 200 while the server is healthy and 503 with the reason otherwise.
type HTTPHealthCheck struct {
	sync.RWMutex
	id      string       // the internal id of the listener
	address string       // the network address to bind to
	config  Config       // configuration values for the listener
	health  HealthFn     // reports the state of the server; nil is always healthy
	listen  *http.Server // the http server
	log     *slog.Logger
	end     uint32 // ensure the close methods are only called once
}

// NewHTTPHealthCheck returns a healthcheck listener reporting the result of health.
func NewHTTPHealthCheck(config Config, health HealthFn) *HTTPHealthCheck {
	return &HTTPHealthCheck{
		id:      config.ID,
		address: config.Address,
		config:  config,
		health:  health,
	}
}

// ID returns the id of the listener.
func (l *HTTPHealthCheck) ID() string {
	return l.id
}

// Address returns the address of the listener.
func (l *HTTPHealthCheck) Address() string {
	return l.address
}

// Protocol returns the protocol of the listener.
func (l *HTTPHealthCheck) Protocol() string {
	if l.listen != nil && l.listen.TLSConfig != nil {
		return "https"
	}

	return "http"
}

// Init builds the http server.
func (l *HTTPHealthCheck) Init(log *slog.Logger) error {
	l.log = log

	mux := http.NewServeMux()
	mux.Handle("/healthcheck", l)
	l.listen = &http.Server{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		Addr:         l.address,
		Handler:      mux,
	}

	if l.config.TLSConfig != nil {
		l.listen.TLSConfig = l.config.TLSConfig
	}

	return nil
}

// ServeHTTP answers a healthcheck request.
func (l *HTTPHealthCheck) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	code := http.StatusOK
	status := healthStatus{Status: "ok"}
	if l.health != nil {
		if err := l.health(); err != nil {
			code = http.StatusServiceUnavailable
			status = healthStatus{Status: "unavailable", Error: err.Error()}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

// Serve starts listening for new connections and serving responses.
func (l *HTTPHealthCheck) Serve(establish EstablishFn) {
	var err error
	if l.listen.TLSConfig != nil {
		err = l.listen.ListenAndServeTLS("", "")
	} else {
		err = l.listen.ListenAndServe()
	}

	if err != nil && atomic.LoadUint32(&l.end) == 0 && l.log != nil {
		l.log.Error("failed to serve", "error", err, "listener", l.id)
	}
}

// Close shuts down the http server.
func (l *HTTPHealthCheck) Close(closeClients CloseFn) {
	l.Lock()
	defer l.Unlock()

	if atomic.CompareAndSwapUint32(&l.end, 0, 1) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.listen.Shutdown(ctx)
	}

	closeClients(l.id)
}

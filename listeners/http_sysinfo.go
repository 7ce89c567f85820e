// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mochi-mqtt/session/system"
)

// HTTPStats serves the server $SYS info as JSON. The full snapshot is at
// "/" and the session counters, keyed on metric name, at "/counters".
type HTTPStats struct {
	sync.RWMutex
	id      string       // the internal id of the listener
	address string       // the network address to bind to
	config  Config       // configuration values for the listener
	listen  *http.Server // the http server
	log     *slog.Logger // server logger
	sysInfo *system.Info // pointers to the server data
	end     uint32       // ensure the close methods are only called once
}

// NewHTTPStats returns a stats listener reporting sysInfo.
func NewHTTPStats(config Config, sysInfo *system.Info) *HTTPStats {
	return &HTTPStats{
		id:      config.ID,
		address: config.Address,
		sysInfo: sysInfo,
		config:  config,
	}
}

func (l *HTTPStats) ID() string {
	return l.id
}

func (l *HTTPStats) Address() string {
	return l.address
}

func (l *HTTPStats) Protocol() string {
	if l.listen != nil && l.listen.TLSConfig != nil {
		return "https"
	}

	return "http"
}

// Init prepares the http server.
func (l *HTTPStats) Init(log *slog.Logger) error {
	l.log = log

	mux := http.NewServeMux()
	mux.HandleFunc("/", l.infoHandler)
	mux.HandleFunc("/counters", l.countersHandler)
	l.listen = &http.Server{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		Addr:         l.address,
		Handler:      mux,
		TLSConfig:    l.config.TLSConfig,
	}

	return nil
}

// Serve blocks until the http server stops.
func (l *HTTPStats) Serve(establish EstablishFn) {
	var err error
	if l.listen.TLSConfig != nil {
		err = l.listen.ListenAndServeTLS("", "")
	} else {
		err = l.listen.ListenAndServe()
	}

	if err != nil && atomic.LoadUint32(&l.end) == 0 {
		l.log.Error("failed to serve.", "error", err, "listener", l.id)
	}
}

// Close shuts down the http server. There are no client connections to close.
func (l *HTTPStats) Close(closeClients CloseFn) {
	l.Lock()
	defer l.Unlock()

	if atomic.CompareAndSwapUint32(&l.end, 0, 1) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.listen.Shutdown(ctx)
	}

	closeClients(l.id)
}

func (l *HTTPStats) infoHandler(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		http.NotFound(w, req)
		return
	}

	l.writeJSON(w, req, l.sysInfo.Clone())
}

func (l *HTTPStats) countersHandler(w http.ResponseWriter, req *http.Request) {
	counters := make(map[string]int64)
	for _, m := range l.sysInfo.Metrics() {
		counters[m.Name] = atomic.LoadInt64(m.Value)
	}

	l.writeJSON(w, req, counters)
}

func (l *HTTPStats) writeJSON(w http.ResponseWriter, req *http.Request, v any) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	out, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

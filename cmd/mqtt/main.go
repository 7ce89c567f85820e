// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mqtt "github.com/mochi-mqtt/session"
	"github.com/mochi-mqtt/session/config"
	"github.com/mochi-mqtt/session/hooks/auth"
	"github.com/mochi-mqtt/session/hooks/storage/memory"
	"github.com/mochi-mqtt/session/listeners"
)

func main() {
	tcpAddr := flag.String("tcp", ":1883", "network address for TCP listener")
	wsAddr := flag.String("ws", ":1882", "network address for Websocket listener")
	infoAddr := flag.String("info", ":8080", "network address for web info dashboard listener")
	metricsAddr := flag.String("metrics", ":9090", "network address for the prometheus metrics endpoint, empty to disable")
	configFile := flag.String("config", "", "path to a yaml or json configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := new(slog.LevelVar)
	if *debug {
		level.Set(slog.LevelDebug)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	sigs := make(chan os.Signal, 1)
	done := make(chan bool, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		done <- true
	}()

	opts := &mqtt.Options{}
	if *configFile != "" {
		var err error
		opts, err = config.FromFile(*configFile)
		if err != nil {
			log.Fatal(err)
		}
	}

	if opts == nil {
		opts = &mqtt.Options{}
	}

	opts.Logger = logger
	server := mqtt.New(opts)

	if *configFile == "" {
		if err := defaults(server, *tcpAddr, *wsAddr, *infoAddr); err != nil {
			log.Fatal(err)
		}
	}

	var metrics *http.Server
	if *metricsAddr != "" {
		metrics = serveMetrics(server, *metricsAddr)
	}

	go func() {
		err := server.Serve()
		if err != nil {
			log.Fatal(err)
		}
	}()

	<-done
	server.Log.Warn("caught signal, stopping...")

	if metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metrics.Shutdown(ctx)
	}

	_ = server.Close()
	server.Log.Info("main.go finished")
}

// defaults attaches the listeners and hooks used when no configuration file is given.
func defaults(server *mqtt.Server, tcpAddr, wsAddr, infoAddr string) error {
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return err
	}

	if err := server.AddHook(new(memory.Hook), nil); err != nil {
		return err
	}

	if err := server.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "t1",
		Address: tcpAddr,
	})); err != nil {
		return err
	}

	if err := server.AddListener(listeners.NewWebsocket(listeners.Config{
		ID:      "ws1",
		Address: wsAddr,
	})); err != nil {
		return err
	}

	return server.AddListener(listeners.NewHTTPStats(listeners.Config{
		ID:      "info",
		Address: infoAddr,
	}, server.Info))
}

// serveMetrics exposes the server counters for prometheus on addr.
func serveMetrics(server *mqtt.Server, addr string) *http.Server {
	registry := prometheus.NewRegistry()
	if err := server.Info.RegisterPrometheusMetrics(registry, "mqtt"); err != nil {
		server.Log.Error("failed to register metrics", "error", err)
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	hs := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Log.Error("metrics server failed", "error", err)
		}
	}()

	return hs
}

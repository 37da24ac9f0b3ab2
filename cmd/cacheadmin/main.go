// Command cacheadmin runs the key cache and certifier as a standalone
// process and exposes their runtime control surface (resize,
// change_param, stats, a live websocket stats stream, and a Prometheus
// /metrics endpoint) over HTTP. Grounded on server/net/mysql_server.go's
// entry point: flag-parsed config path, signal.Notify-driven graceful
// shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zhukovaskychina/keycache/internal/admin"
	"github.com/zhukovaskychina/keycache/internal/certifier"
	"github.com/zhukovaskychina/keycache/internal/diskstorage"
	"github.com/zhukovaskychina/keycache/internal/keycache"
	"github.com/zhukovaskychina/keycache/logger"
	"github.com/zhukovaskychina/keycache/server/conf"
)

func main() {
	configPath := flag.String("config", "", "path to keycache.ini")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := conf.NewCfg().Load(&conf.CommandLineArgs{ConfigPath: configPath})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := logger.InitLogger(logger.LogConfig{LogLevel: "info"}); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	storage := diskstorage.New(cfg.DataDir)
	defer storage.Close()

	cache := keycache.New(storage)
	if _, err := cache.Init(keycache.Config{
		BlockSize:       cfg.Cache.BlockSize,
		MemorySize:      cfg.Cache.MemorySize,
		DivisionLimit:   cfg.Cache.DivisionLimit,
		AgeThresholdPct: cfg.Cache.AgeThreshold,
	}); err != nil {
		return fmt.Errorf("initializing key cache: %w", err)
	}
	defer cache.End(true)

	cert := certifier.New(certifier.Config{
		GTIDAssignmentBlockSize:   cfg.Certifier.GTIDAssignmentBlockSize,
		PreemptiveGC:              cfg.Certifier.PreemptiveGC,
		PreemptiveGCRowsThreshold: cfg.Certifier.PreemptiveGCRowsThreshold,
	})
	cert.StartBroadcastThread(func(set interface{ String() string }) error {
		logger.Debugf("certifier: broadcasting executed set %s", set.String())
		return nil
	})
	defer cert.StopBroadcastThread()

	srv := admin.New(cache, cert)
	addr := net.JoinHostPort(cfg.Admin.BindAddress, fmt.Sprintf("%d", cfg.Admin.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("cacheadmin: listening on %s", addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	case sig := <-signals:
		logger.Infof("cacheadmin: received signal %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	}
}

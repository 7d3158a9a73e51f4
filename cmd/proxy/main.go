// Command proxy runs the HTTP/1.0 forward caching proxy: a bounded
// connection queue feeding a fixed worker pool, each worker running the
// request handler against the shared object cache.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/proxylab/cacheproxy/internal/cache"
	"github.com/proxylab/cacheproxy/internal/config"
	"github.com/proxylab/cacheproxy/internal/handler"
	"github.com/proxylab/cacheproxy/internal/logging"
	"github.com/proxylab/cacheproxy/internal/metrics"
	"github.com/proxylab/cacheproxy/internal/queue"
	"github.com/proxylab/cacheproxy/internal/tracing"
	"github.com/proxylab/cacheproxy/internal/worker"
)

// usage prints the command's usage message and exits with 0 — a CLI
// misuse is not treated as a conventional Unix error exit here.
func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <port number>\n", os.Args[0])
	os.Exit(0)
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		usage()
	}
	port, err := strconv.Atoi(args[0])
	if err != nil {
		usage()
	}

	if *configPath != "" {
		if err := config.LoadConfig(*configPath); err != nil {
			log.Fatalf("loading config: %v", err)
		}
	}
	cfg := config.GetInstance()
	cfg.Server.Addr = fmt.Sprintf(":%d", port)

	logger := logging.NewLogger(cfg.Tracing.ServiceName)
	shutdownTracing, err := tracing.InitTracing(cfg.Tracing)
	if err != nil {
		log.Fatalf("initializing tracing: %v", err)
	}
	defer shutdownTracing()

	m := metrics.NewMetrics()
	go serveMetrics(cfg.Server.MetricsAddr, m, logger)

	c := cache.New(cfg.Cache.MaxCacheSize, cfg.Cache.MaxObjectSize)
	q := queue.New(cfg.Queue.Size)
	h := handler.New(c).WithMetrics(m).WithLogger(logger)
	pool := worker.New(cfg.Pool.Size, q, h).WithMetrics(m)

	ln, err := net.Listen("tcp4", cfg.Server.Addr)
	if err != nil {
		log.Fatalf("binding %s: %v", cfg.Server.Addr, err)
	}
	acceptor := worker.NewAcceptor(ln, q).WithMetrics(m)

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info(ctx, "proxy listening", slog.String("addr", cfg.Server.Addr))
		if err := acceptor.Run(ctx); err != nil {
			logger.Error(ctx, "acceptor stopped", err)
		}
	}()

	go pool.Run(ctx)

	<-sigCh
	logger.Info(ctx, "received termination signal, shutting down")
	cancel()
	ln.Close()
	q.Close()
}

// serveMetrics runs the Prometheus scrape endpoint until it fails to
// bind or is closed — a best-effort side channel, not core proxy
// functionality, so its failure is logged rather than fatal.
func serveMetrics(addr string, m *metrics.Metrics, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error(context.Background(), "metrics server stopped", err)
	}
}

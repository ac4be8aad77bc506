package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusFunc returns one section of the operator status page. It is called
// per request and must be safe for concurrent use.
type StatusFunc func() any

// ServerOptions configures the operator listener. A nil Gatherer scrapes the
// default registry.
type ServerOptions struct {
	Port     int
	Gatherer prometheus.Gatherer
	Status   map[string]StatusFunc
}

// NewServeMux serves /metrics for Prometheus and / as a JSON document with
// one key per status section plus the process uptime.
func NewServeMux(opts ServerOptions) *http.ServeMux {
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	started := time.Now()
	names := make([]string, 0, len(opts.Status))
	for name := range opts.Status {
		names = append(names, name)
	}
	sort.Strings(names)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		doc := make(map[string]any, len(names)+1)
		doc["uptime_seconds"] = int64(time.Since(started).Seconds())
		for _, name := range names {
			doc[name] = opts.Status[name]()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(doc); err != nil {
			slog.Error("encoding status page", "error", err)
		}
	})
	return mux
}

// StartServer binds the operator listener and serves it in the background.
// Bind errors are returned to the caller.
func StartServer(opts ServerOptions) (shutdown func(context.Context) error, err error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", opts.Port))
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	server := &http.Server{
		Handler:      NewServeMux(opts),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("metrics server listening", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return server.Shutdown, nil
}

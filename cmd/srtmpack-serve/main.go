// Command srtmpack-serve exposes a read-only view over a local tile cache
// database: a /status endpoint with the cache's storage info (tile count,
// total size, oldest and newest timestamps; no cache hit/miss counters and
// no session statistics), and a /metrics endpoint for Prometheus scraping.
//
// It is adapted from the teacher's cmd/serve (mbtiles-backed HTTP handler,
// logging middleware, graceful listen) generalized from serving tile
// bytes over HTTP onto serving the cache's own statistics.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srtm-tiles/srtmpack/internal/download"
	"github.com/srtm-tiles/srtmpack/internal/tilecache"
)

func loggingMiddleware(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				logger.Println(r.Method, r.URL.Path, r.RemoteAddr, r.UserAgent())
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func statusHandler(cache *tilecache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := cache.GetStorageInfo()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(info)
	}
}

func main() {
	cacheDB := flag.String("cache-db", "", "Path to the sqlite cache database to serve from.")
	addr := flag.String("listen", ":8081", "The address and port to listen on")
	flag.Parse()

	logger := log.New(os.Stdout, "srtmpack-serve: ", log.LstdFlags)

	if *cacheDB == "" {
		logger.Fatal("Need to provide --cache-db")
	}

	cache, err := tilecache.Open(*cacheDB, nil)
	if err != nil {
		logger.Fatalf("Couldn't open cache: %+v", err)
	}
	if err := cache.Init(); err != nil {
		logger.Fatalf("Couldn't initialize cache schema: %+v", err)
	}
	defer cache.Close()

	mgr := download.New(nil, nil, cache, nil, download.Options{})
	registry := prometheus.NewRegistry()
	registry.MustRegister(download.NewCollector(mgr))

	router := http.NewServeMux()
	router.Handle("/status", statusHandler(cache))
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         *addr,
		Handler:      loggingMiddleware(logger)(router),
		ErrorLog:     logger,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Could not listen on %s: %v\n", *addr, err)
	}
}

// Package stats exposes the supervision core's counters and the
// master's admin HTTP surface.
package stats

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/inconshreveable/log15"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reloads counts configuration reloads that installed a new
	// listener generation.
	Reloads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nutcracker_reloads_total",
		Help: "Configuration reloads that installed a new listener generation.",
	})

	// ReloadFailures counts reload passes abandoned with the previous
	// generation left active.
	ReloadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nutcracker_reload_failures_total",
		Help: "Reload passes abandoned with the previous generation left active.",
	})

	// Respawns counts worker spawn passes.
	Respawns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nutcracker_respawns_total",
		Help: "Worker spawn passes.",
	})

	// WorkersSpawned counts individual worker processes started.
	WorkersSpawned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nutcracker_workers_spawned_total",
		Help: "Worker processes started.",
	})

	// ListenersMigrated counts listening sockets carried from an old
	// generation into a new one during reload.
	ListenersMigrated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nutcracker_listeners_migrated_total",
		Help: "Listening sockets migrated across a reload instead of rebound.",
	})

	// MigrationCollisions counts destination pools that already owned a
	// connection when a migration source matched their address.
	MigrationCollisions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nutcracker_migration_collisions_total",
		Help: "Migration pairs skipped because the destination pool was already bound.",
	})
)

func init() {
	prometheus.MustRegister(
		Reloads,
		ReloadFailures,
		Respawns,
		WorkersSpawned,
		ListenersMigrated,
		MigrationCollisions,
	)
}

// Handler returns the admin mux: /metrics and /healthz.
func Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	return r
}

// Serve runs the admin server until it fails. Intended to be run on its
// own goroutine by the master.
func Serve(l log15.Logger, addr string) {
	l.Info("serving stats", "addr", addr)
	if err := http.ListenAndServe(addr, Handler()); err != nil {
		l.Error("stats server stopped", "err", err)
	}
}

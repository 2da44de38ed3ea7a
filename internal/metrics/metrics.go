// Package metrics exposes Prometheus collectors for the coordination
// core and serves them on a dedicated port.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessiond_rooms_active",
		Help: "The current number of rooms with at least one occupant.",
	})
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessiond_room_connections_active",
		Help: "The current number of admitted room connections.",
	})
	JoinAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessiond_join_attempts_total",
		Help: "The total number of join attempts, by outcome.",
	}, []string{"outcome"})
	SignalsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessiond_signals_relayed_total",
		Help: "The total number of signaling messages relayed, by type.",
	}, []string{"type"})
	SignalsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessiond_signals_dropped_total",
		Help: "The total number of signaling messages dropped because the sender was alone in the room.",
	})
	SessionsTerminated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessiond_sessions_terminated_total",
		Help: "The total number of sessions moved to a terminal status.",
	}, []string{"status"})
)

// StartServer serves the Prometheus endpoint on its own listener so
// scrapes never compete with signaling traffic.
func StartServer(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	log.Info().Str("module", "metrics").Str("addr", addr).Str("path", path).Msg("metrics server starting")

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Str("module", "metrics").Msg("metrics server stopped")
		}
	}()
}

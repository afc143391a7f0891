// Package metrics holds the Prometheus collectors of the player.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollTicks counts reader ticks by how far they got: no_card, uid_error, auth_error, read, ...
	PollTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "musikbox_poll_ticks_total",
		Help: "Number of card poll ticks by outcome",
	}, []string{"outcome"})

	PlayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "musikbox_play_requests_total",
		Help: "Number of playback requests by trigger and outcome",
	}, []string{"trigger", "outcome"})

	Sessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "musikbox_socket_sessions",
		Help: "Currently connected socket sessions",
	})

	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "musikbox_token_refreshes_total",
		Help: "Number of Spotify token refreshes by outcome",
	}, []string{"outcome"})
)

// Outcome maps an error to the outcome label used by the counters.
func Outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

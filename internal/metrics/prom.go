package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/questlink/internal/logx"
	"github.com/gaspardpetit/questlink/internal/wire"
)

var allStatuses = []wire.ConnectionStatus{
	wire.StatusConnecting,
	wire.StatusConnected,
	wire.StatusDisconnected,
	wire.StatusError,
	wire.StatusReconnecting,
}

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "questlink_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "client"},
		},
		[]string{"date", "sha", "version"},
	)

	connectionStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "questlink_connection_status",
			Help: "Current push channel status (1 for the active status, 0 otherwise)",
		},
		[]string{"status"},
	)

	reconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "questlink_reconnect_attempts_total",
		Help: "Automatic reconnect attempts made by the push channel",
	})

	droppedSends = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "questlink_dropped_sends_total",
		Help: "Envelopes dropped because the push channel was not open",
	})

	malformedInbound = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "questlink_malformed_inbound_total",
		Help: "Inbound push channel payloads that could not be decoded",
	})

	gatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questlink_gateway_requests_total",
			Help: "Request gateway calls by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "questlink_gateway_request_duration_seconds",
			Help:    "Request gateway call duration including any retry",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	credentialRefresh = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questlink_credential_refresh_total",
			Help: "Credential refresh attempts by outcome",
		},
		[]string{"outcome"},
	)

	diceRolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questlink_dice_rolls_total",
			Help: "Dice rolls by source",
		},
		[]string{"source"},
	)

	blockedActions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "questlink_blocked_actions_total",
		Help: "Player actions refused because a dice roll is pending",
	})
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(
		buildInfo,
		connectionStatus,
		reconnectAttempts,
		droppedSends,
		malformedInbound,
		gatewayRequests,
		gatewayDuration,
		credentialRefresh,
		diceRolls,
		blockedActions,
	)
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// SetConnectionStatus marks s as the active connection status.
func SetConnectionStatus(s wire.ConnectionStatus) {
	for _, st := range allStatuses {
		v := 0.0
		if st == s {
			v = 1
		}
		connectionStatus.WithLabelValues(string(st)).Set(v)
	}
}

// RecordReconnectAttempt increments the reconnect attempt counter.
func RecordReconnectAttempt() { reconnectAttempts.Inc() }

// RecordDroppedSend increments the dropped send counter.
func RecordDroppedSend() { droppedSends.Inc() }

// RecordMalformedInbound increments the malformed payload counter.
func RecordMalformedInbound() { malformedInbound.Inc() }

// RecordGatewayRequest records the outcome and duration of a gateway call.
func RecordGatewayRequest(endpoint string, success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	gatewayRequests.WithLabelValues(endpoint, outcome).Inc()
	gatewayDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// RecordCredentialRefresh records whether a refresh yielded a new token.
func RecordCredentialRefresh(renewed bool) {
	outcome := "renewed"
	if !renewed {
		outcome = "empty"
	}
	credentialRefresh.WithLabelValues(outcome).Inc()
}

// RecordDiceRoll counts a roll by its source.
func RecordDiceRoll(source string) {
	if source == "" {
		source = "unknown"
	}
	diceRolls.WithLabelValues(source).Inc()
}

// RecordBlockedAction counts an action refused while waiting for dice.
func RecordBlockedAction() { blockedActions.Inc() }

// StartServer starts an HTTP server exposing Prometheus metrics on /metrics.
// It returns the address it is listening on.
func StartServer(ctx context.Context, addr string, reg *prometheus.Registry) (string, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	actual := ln.Addr().String()
	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(c)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logx.Log.Error().Err(err).Str("addr", actual).Msg("metrics server error")
		}
	}()
	return actual, nil
}

package relay

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	wsConnectionAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "foodstr_relay_connection_attempts_total",
		Help: "The total number of connection attempts to relay websockets",
	})

	wsConnectionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "foodstr_relay_connection_errors_total",
		Help: "The total number of relay connection errors encountered",
	})

	wsCurrentConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "foodstr_relay_current_connections",
		Help: "The current number of active relay websocket connections",
	})

	wsEventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foodstr_relay_events_received_total",
		Help: "The number of EVENT frames received per relay",
	}, []string{"relay"})

	wsQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "foodstr_relay_query_duration_seconds",
		Help:    "Duration of bounded relay queries",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	wsHostSwitches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "foodstr_relay_host_switches_total",
		Help: "Number of times a live subscription switched to a different relay",
	}, []string{"from_host", "to_host"})
)

const (
	wsReadBufferSize  = 1024 * 1024 // 1MB
	wsWriteBufferSize = 1024        // 1KB
	wsReadTimeout     = 60 * time.Second
	wsWriteTimeout    = 10 * time.Second
	wsPingInterval    = 30 * time.Second
)

func newDialer() *websocket.Dialer {
	return &websocket.Dialer{
		ReadBufferSize:   wsReadBufferSize,
		WriteBufferSize:  wsWriteBufferSize,
		HandshakeTimeout: 45 * time.Second,
		NetDialContext: (&net.Dialer{
			Timeout:   45 * time.Second,
			KeepAlive: 45 * time.Second,
		}).DialContext,
	}
}

// dial opens one websocket connection to a relay. Used by bounded queries
// which bring their own timeout and retry policy.
func dial(ctx context.Context, host string, userAgent string) (*websocket.Conn, error) {
	headers := http.Header{}
	if userAgent != "" {
		headers.Set("User-Agent", userAgent)
	}

	wsConnectionAttempts.Inc()
	conn, _, err := newDialer().DialContext(ctx, host, headers)
	if err != nil {
		wsConnectionErrors.Inc()
		return nil, fmt.Errorf("failed to dial relay %s: %w", host, err)
	}

	wsCurrentConnections.Inc()
	setupConnectionHandlers(conn)
	return conn, nil
}

// dialWithFailover establishes a connection for a live subscription, rotating
// through the host list with exponential backoff until one answers or the
// context is cancelled.
func dialWithFailover(ctx context.Context, hosts []string, userAgent string) (*websocket.Conn, string, error) {
	if len(hosts) == 0 {
		return nil, "", fmt.Errorf("no relay hosts provided")
	}

	log.WithFields(log.Fields{
		"hosts": hosts,
	}).Info("Connecting to relays")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.Multiplier = 1.5
	bo.MaxElapsedTime = 0 // Never stop retrying

	currentHostIdx := 0

	for {
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		default:
			currentHost := hosts[currentHostIdx]

			conn, err := dial(ctx, currentHost, userAgent)
			if err != nil {
				log.Errorf("Error connecting to relay %s: %s", currentHost, err)

				// Try next host
				nextHostIdx := (currentHostIdx + 1) % len(hosts)
				if nextHostIdx != currentHostIdx {
					wsHostSwitches.WithLabelValues(currentHost, hosts[nextHostIdx]).Inc()
					log.Infof("Switching from relay %s to %s", currentHost, hosts[nextHostIdx])
					currentHostIdx = nextHostIdx
					// Reset backoff when switching hosts
					bo.Reset()
					continue
				}

				time.Sleep(bo.NextBackOff())
				continue
			}

			bo.Reset()

			// Start ping routine for the long-lived connection
			go managePingPong(ctx, conn)

			return conn, currentHost, nil
		}
	}
}

func setupConnectionHandlers(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))

	conn.SetCloseHandler(func(code int, text string) error {
		log.Infof("WebSocket connection closed with code %d: %s", code, text)
		return nil
	})

	conn.SetPingHandler(func(appData string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	conn.SetPongHandler(func(appData string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
}

// managePingPong handles the ping/pong keepalive for a live connection
func managePingPong(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wsWriteTimeout)); err != nil {
				log.Warn("Ping failed, closing connection for restart: ", err)
				wsConnectionErrors.Inc()
				conn.Close()
				return
			}

			if err := conn.SetReadDeadline(time.Now().Add(wsReadTimeout)); err != nil {
				log.Warn("Failed to set read deadline, closing connection: ", err)
				wsConnectionErrors.Inc()
				conn.Close()
				return
			}
		}
	}
}

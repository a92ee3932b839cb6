// Package relay implements a minimal Nostr relay client: bounded queries
// that collect events until EOSE or a deadline, and long-lived subscriptions
// that survive reconnects.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"foodstr/models"
)

// Pool fans queries out to a set of relays and merges the results. A pool
// with a single host doubles as the client for a curated relay.
type Pool struct {
	hosts     []string
	userAgent string
	timeout   time.Duration
}

func NewPool(hosts []string, userAgent string, timeout time.Duration) *Pool {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Pool{
		hosts:     hosts,
		userAgent: userAgent,
		timeout:   timeout,
	}
}

// Query sends the filter to every relay in the pool concurrently and merges
// whatever arrives before EOSE or the per-relay timeout. A relay that fails
// or times out contributes nothing; Query only errors when every relay
// failed and nothing was collected.
func (p *Pool) Query(ctx context.Context, filter models.Filter) ([]models.Note, error) {
	start := time.Now()
	defer func() {
		wsQueryDuration.Observe(time.Since(start).Seconds())
	}()

	var mu sync.Mutex
	var merged []models.Note
	var lastErr error
	failures := 0

	var wg sync.WaitGroup
	for _, host := range p.hosts {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()

			notes, err := p.queryOne(ctx, host, filter)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.WithFields(log.Fields{
					"relay": host,
					"error": err,
				}).Warn("Relay query contributed nothing")
				failures++
				lastErr = err
				return
			}
			merged = append(merged, notes...)
		}(host)
	}
	wg.Wait()

	if failures == len(p.hosts) && lastErr != nil {
		return nil, lastErr
	}

	// The same note is usually seen on several relays; first copy wins.
	merged = lo.UniqBy(merged, func(n models.Note) string { return n.Id })
	return merged, nil
}

// queryOne runs one bounded REQ against a single relay.
func (p *Pool) queryOne(ctx context.Context, host string, filter models.Filter) ([]models.Note, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := dial(ctx, host, p.userAgent)
	if err != nil {
		return nil, err
	}
	defer func() {
		wsCurrentConnections.Dec()
		conn.Close()
	}()

	subID := uuid.New().String()
	req, err := reqFrame(subID, filter)
	if err != nil {
		return nil, err
	}

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return nil, err
	}

	deadline, _ := ctx.Deadline()
	var notes []models.Note

	for {
		conn.SetReadDeadline(deadline)
		_, message, err := conn.ReadMessage()
		if err != nil {
			// Return what arrived before the deadline hit.
			if len(notes) > 0 {
				return notes, nil
			}
			return nil, err
		}

		f, err := parseFrame(message)
		if err != nil {
			log.WithFields(log.Fields{
				"relay": host,
				"error": err,
			}).Debug("Skipping malformed frame")
			continue
		}

		switch f.Label {
		case labelEvent:
			if f.SubID != subID || f.Event == nil {
				continue
			}
			wsEventsReceived.WithLabelValues(host).Inc()
			notes = append(notes, *f.Event)
		case labelEose, labelClosed:
			if f.SubID == subID {
				if close, err := closeFrame(subID); err == nil {
					conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
					conn.WriteMessage(websocket.TextMessage, close)
				}
				return notes, nil
			}
		case labelNotice:
			log.WithFields(log.Fields{
				"relay":  host,
				"notice": f.Notice,
			}).Debug("Relay notice")
		}
	}
}

// Subscribe opens a live query and returns a channel of matching notes. The
// connection is re-established with backoff and host failover until the
// context is cancelled; the channel closes when it is.
func (p *Pool) Subscribe(ctx context.Context, filter models.Filter) (<-chan models.Note, error) {
	if len(p.hosts) == 0 {
		return nil, errNoHosts
	}

	out := make(chan models.Note, 256)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			conn, host, err := dialWithFailover(ctx, p.hosts, p.userAgent)
			if err != nil {
				return
			}

			p.readLive(ctx, conn, host, filter, out)
			wsCurrentConnections.Dec()
			conn.Close()
		}
	}()

	return out, nil
}

// readLive runs one subscription on an established connection until it drops.
func (p *Pool) readLive(ctx context.Context, conn *websocket.Conn, host string, filter models.Filter, out chan<- models.Note) {
	subID := uuid.New().String()
	req, err := reqFrame(subID, filter)
	if err != nil {
		log.Errorf("Failed to encode subscription request: %v", err)
		return
	}

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		log.Errorf("Failed to send subscription request to %s: %v", host, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Errorf("Unexpected websocket close from %s: %v", host, err)
				}
				wsConnectionErrors.Inc()
				return
			}

			f, err := parseFrame(message)
			if err != nil {
				continue
			}

			if f.Label == labelEvent && f.SubID == subID && f.Event != nil {
				wsEventsReceived.WithLabelValues(host).Inc()
				select {
				case out <- *f.Event:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

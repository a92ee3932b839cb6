// Package server exposes the reconciled feeds over HTTP: JSON pages,
// live SSE streams and engagement tallies.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"foodstr/models"
)

// FeedProvider serves one page of a reconciled feed.
type FeedProvider interface {
	Page(cursor string, limit int) models.FeedPage
	Failed() bool
}

// EngagementCounter resolves tallies for a set of note ids.
type EngagementCounter interface {
	Counts(ctx context.Context, ids []string) map[string]models.Engagement
}

type ServerConfig struct {

	// The hostname to use for the server
	Hostname string

	// One provider per feed mode
	Feeds map[string]FeedProvider

	// Engagement tallies for the /engagement endpoint
	Engagement EngagementCounter

	// Broadcast channel to pass merged notes to SSE clients
	Broadcaster *Broadcaster
}

// Broadcaster fans merge events out to SSE clients subscribed per mode.
type Broadcaster struct {
	sync.RWMutex
	clients map[string]chan models.MergeEvent
	modes   map[string]string
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]chan models.MergeEvent, 10000),
		modes:   make(map[string]string, 10000),
	}
}

func (b *Broadcaster) Broadcast(event models.MergeEvent) {
	b.RLock()
	defer b.RUnlock()

	for key, client := range b.clients {
		if b.modes[key] != event.Mode {
			continue
		}
		select {
		case client <- event: // Non-blocking send
		default:
			log.Warnf("Client channel full, skipping merge event for client: %v", key)
		}
	}
}

func (b *Broadcaster) AddClient(key string, mode string, client chan models.MergeEvent) {
	b.Lock()
	defer b.Unlock()
	b.clients[key] = client
	b.modes[key] = mode
	log.WithFields(log.Fields{
		"key":   key,
		"mode":  mode,
		"count": len(b.clients),
	}).Info("Adding client to broadcaster")
}

func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if client, ok := b.clients[key]; ok {
		close(client)
		delete(b.clients, key)
		delete(b.modes, key)
	}

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Removed client from broadcaster")
}

func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, client := range b.clients {
		close(client)
		delete(b.clients, key)
		delete(b.modes, key)
	}
}

// Returns a fiber.App instance to be used as the HTTP server for the feeds
func Server(config *ServerConfig) *fiber.App {

	bc := config.Broadcaster

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		stop := time.Now()

		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"latency": stop.Sub(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())

	app.Use(func(c *fiber.Ctx) error {
		corsConfig := cors.Config{
			AllowOrigins:     "*",
			AllowHeaders:     "Cache-Control",
			AllowCredentials: false,
		}
		return cors.New(corsConfig)(c)
	})

	prometheus := fiberprometheus.New("foodstr")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"host":   config.Hostname,
		})
	})

	app.Get("/feed/:mode", func(c *fiber.Ctx) error {
		mode := c.Params("mode")
		cursor := c.Query("cursor", "")
		limit, err := strconv.ParseInt(c.Query("limit", "20"), 0, 32)
		if err != nil || limit < 1 || limit > 100 {
			limit = 20
		}

		provider, ok := config.Feeds[mode]
		if !ok {
			return c.Status(400).SendString("Invalid feed mode")
		}

		log.WithFields(log.Fields{
			"mode":   mode,
			"cursor": cursor,
			"limit":  limit,
		}).Info("Serve feed page")

		if provider.Failed() {
			return c.Status(503).SendString("All feed sources unavailable")
		}

		return c.JSON(provider.Page(cursor, int(limit)))
	})

	app.Get("/engagement", func(c *fiber.Ctx) error {
		if config.Engagement == nil {
			return c.Status(404).SendString("Engagement not configured")
		}

		raw := c.Query("ids", "")
		if raw == "" {
			return c.Status(400).SendString("Missing ids")
		}
		ids := strings.Split(raw, ",")
		if len(ids) > 100 {
			return c.Status(400).SendString("Too many ids")
		}

		counts := config.Engagement.Counts(c.Context(), ids)
		return c.JSON(counts)
	})

	app.Delete("/feed/:mode/sse", func(c *fiber.Ctx) error {
		key := c.Query("key", "")
		bc.RemoveClient(key)
		return c.Status(200).SendString("OK")
	})

	app.Get("/feed/:mode/sse", func(c *fiber.Ctx) error {
		mode := c.Params("mode")
		if _, ok := config.Feeds[mode]; !ok {
			return c.Status(400).SendString("Invalid feed mode")
		}

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		// Unique client key
		key := uuid.New().String()
		mergeChannel := make(chan models.MergeEvent, 10) // Buffered channel
		aliveChan := time.NewTicker(5 * time.Second)

		defer aliveChan.Stop()

		bc.AddClient(key, mode, mergeChannel)

		cleanup := func() {
			log.Infof("Cleaning up SSE stream for client: %s", key)
			bc.RemoveClient(key)
		}

		// Use StreamWriter to manage SSE streaming
		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer cleanup()

			// Send initial event with client key
			fmt.Fprintf(w, "event: init\ndata: %s\n\n", key)
			if err := w.Flush(); err != nil {
				log.Errorf("Failed to send init event: %v", err)
				return
			}

			for {
				select {
				case <-aliveChan.C:
					// Send keep-alive pings
					if _, err := fmt.Fprintf(w, "event: ping\ndata: \n\n"); err != nil {
						log.Warnf("Failed to send ping to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush ping for client %s: %v", key, err)
						return
					}

				case event, ok := <-mergeChannel:
					if !ok {
						log.Warnf("Merge channel closed for client %s", key)
						return
					}
					jsonNotes, err := json.Marshal(event.Notes)
					if err != nil {
						log.Errorf("Error marshalling notes for client %s: %v", key, err)
						continue
					}
					if _, err := fmt.Fprintf(w, "event: notes\ndata: %s\n\n", jsonNotes); err != nil {
						log.Warnf("Failed to send notes event to client %s: %v", key, err)
						return
					}
					if err := w.Flush(); err != nil {
						log.Warnf("Failed to flush notes event for client %s: %v", key, err)
						return
					}
				}
			}
		}))

		return nil
	})

	return app
}

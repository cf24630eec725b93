// Package events forwards upload events to a websocket endpoint so a browser
// UI can render progress. Delivery is best effort: failures are logged and
// never affect the upload.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/slidelens/deckup/internal/upload"
)

const (
	queueSize    = 256
	dialTimeout  = 5 * time.Second
	writeTimeout = 5 * time.Second
	// redialAfter suppresses dial attempts after a failed one.
	redialAfter = 2 * time.Second
)

// Message is the JSON form of an upload.Event.
type Message struct {
	Type       string    `json:"type"`
	Phase      string    `json:"phase"`
	Percent    int       `json:"percent"`
	Error      string    `json:"error,omitempty"`
	Cancelled  bool      `json:"cancelled,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	UploadID   string    `json:"upload_id,omitempty"`
	Filename   string    `json:"filename"`
	ArtifactID string    `json:"artifact_id,omitempty"`
	Time       time.Time `json:"time"`
}

// FromEvent converts an upload event to its wire form.
func FromEvent(ev upload.Event) Message {
	m := Message{
		Type:     string(ev.Type),
		Phase:    ev.Phase.String(),
		Percent:  ev.Percent,
		RunID:    ev.RunID,
		UploadID: ev.UploadID,
		Filename: ev.Filename,
		Time:     ev.Time.UTC(),
	}

	if ev.Err != nil {
		m.Error = ev.Err.Error()
		m.Cancelled = ev.Phase == upload.PhaseCancelled
	}

	if ev.Result != nil {
		m.ArtifactID = string(ev.Result.ID)
	}

	return m
}

// WebsocketPublisher writes messages to one websocket connection from a
// single goroutine, so they arrive in emission order. The connection is
// dialed lazily and redialed after a failed write.
type WebsocketPublisher struct {
	url    string
	logger *slog.Logger

	queue chan Message
	wg    sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewWebsocketPublisher starts a publisher for url. Call Close to flush.
func NewWebsocketPublisher(url string, logger *slog.Logger) *WebsocketPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	p := &WebsocketPublisher{
		url:    url,
		logger: logger,
		queue:  make(chan Message, queueSize),
	}

	p.wg.Add(1)

	go p.loop()

	return p
}

// Hook adapts the publisher to upload.Hooks.OnEvent.
func (p *WebsocketPublisher) Hook() func(upload.Event) {
	return func(ev upload.Event) { p.Publish(FromEvent(ev)) }
}

// Publish enqueues m without blocking. Messages are dropped when the queue is
// full or the publisher is closed.
func (p *WebsocketPublisher) Publish(m Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	select {
	case p.queue <- m:
	default:
		p.dropped++
	}
}

// Close stops accepting messages and waits for queued ones to be sent.
func (p *WebsocketPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	p.closed = true
	close(p.queue)
	dropped := p.dropped
	p.mu.Unlock()

	p.wg.Wait()

	if dropped > 0 {
		p.logger.Warn("event publisher dropped messages", slog.Int("dropped", dropped))
	}
}

func (p *WebsocketPublisher) loop() {
	defer p.wg.Done()

	var (
		conn       *websocket.Conn
		lastFailed time.Time
	)

	defer func() {
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "upload finished")
		}
	}()

	for m := range p.queue {
		if conn == nil {
			if !lastFailed.IsZero() && time.Since(lastFailed) < redialAfter {
				continue
			}

			c, err := p.dial()
			if err != nil {
				lastFailed = time.Now()
				p.logger.Debug("event publisher not connected",
					slog.String("url", p.url),
					slog.String("error", err.Error()),
				)

				continue
			}

			conn = c
		}

		if err := p.write(conn, m); err != nil {
			p.logger.Warn("event publish failed",
				slog.String("type", m.Type),
				slog.String("error", err.Error()),
			)
			conn.CloseNow()
			conn = nil
		}
	}
}

func (p *WebsocketPublisher) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	c, resp, err := websocket.Dial(ctx, p.url, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}

		return nil, fmt.Errorf("events: dialing %s: %w", p.url, err)
	}

	return c, nil
}

func (p *WebsocketPublisher) write(c *websocket.Conn, m Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, c, m); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("events: write timed out after %s: %w", writeTimeout, err)
		}

		return fmt.Errorf("events: writing message: %w", err)
	}

	return nil
}

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skygraph/feedgen/internal/domain"
)

const (
	// CursorService is the sub_state key for the Jetstream source.
	CursorService = "jetstream"

	reconnectDelay = 5 * time.Second
	flushSize      = 50
	flushInterval  = time.Second
	statsInterval  = 30 * time.Second
)

// collections maps the AT Proto collection NSIDs we subscribe to onto entity
// types.
var collections = map[string]Entity{
	"app.bsky.feed.post":    EntityPost,
	"app.bsky.graph.follow": EntityFollow,
	"app.bsky.feed.like":    EntityLike,
}

// Subscriber connects to the Jetstream firehose, decodes commit events into
// typed operations, and delivers them to the consumer in small ordered
// batches. The wire framing stays here; the consumer only sees decoded ops.
type Subscriber struct {
	url      string
	consumer *Consumer
	cursors  domain.CursorRepository
	logger   *slog.Logger
}

// NewSubscriber creates a new firehose subscriber.
func NewSubscriber(firehoseURL string, consumer *Consumer, cursors domain.CursorRepository, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		url:      firehoseURL,
		consumer: consumer,
		cursors:  cursors,
		logger:   logger,
	}
}

// Start connects to the firehose and processes events until the context is
// cancelled. It automatically reconnects on transient errors, resuming from
// the last durable cursor.
func (s *Subscriber) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.subscribe(ctx); err != nil {
				s.logger.Error("firehose connection error, reconnecting", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(reconnectDelay):
				}
			}
		}
	}
}

func (s *Subscriber) buildURL(cursor int64) string {
	u, _ := url.Parse(s.url)
	q := u.Query()
	for nsid := range collections {
		q.Add("wantedCollections", nsid)
	}
	if cursor > 0 {
		q.Set("cursor", fmt.Sprintf("%d", cursor))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Subscriber) subscribe(ctx context.Context) error {
	cursor, err := s.cursors.GetCursor(ctx, CursorService)
	if err != nil {
		s.logger.Warn("failed to load cursor, starting from live", "error", err)
	}

	wsURL := s.buildURL(cursor)
	s.logger.Info("connecting to firehose", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial firehose: %w", err)
	}
	defer conn.Close()

	s.logger.Info("connected to firehose")

	var (
		pending       Batch
		lastFlush     = time.Now()
		lastStatsLog  = time.Now()
		eventsDecoded int64
		opsApplied    int64
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		op, timeUS, err := decodeEvent(message)
		if err != nil {
			s.logger.Error("failed to decode event", "error", err)
			continue
		}

		eventsDecoded++
		if timeUS > pending.Cursor {
			pending.Cursor = timeUS
		}
		if op != nil {
			pending.Ops = append(pending.Ops, *op)
		}

		if len(pending.Ops) >= flushSize || (len(pending.Ops) > 0 && time.Since(lastFlush) >= flushInterval) {
			if err := s.consumer.Apply(ctx, pending); err != nil {
				// Batch failed: no cursor advance. Reconnect and let the
				// source redeliver from the last durable position.
				return fmt.Errorf("apply batch: %w", err)
			}
			opsApplied += int64(len(pending.Ops))
			pending = Batch{}
			lastFlush = time.Now()
		}

		if time.Since(lastStatsLog) >= statsInterval {
			s.logger.Info("firehose stats",
				"events_decoded", eventsDecoded,
				"ops_applied", opsApplied,
			)
			lastStatsLog = time.Now()
		}
	}
}

package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog/log"
	"github.com/thebtf/incident-cluster/internal/config"
	"github.com/thebtf/incident-cluster/internal/engine"
	"github.com/thebtf/incident-cluster/internal/metrics"
	"github.com/thebtf/incident-cluster/pkg/models"
)

// Consumer configuration constants
const (
	// DefaultReadCount is the maximum number of entries fetched per read.
	DefaultReadCount = 10

	// DefaultBlock is how long a read waits for new entries.
	DefaultBlock = 5 * time.Second

	// ErrorBackoff is the pause after a failed read.
	ErrorBackoff = time.Second
)

// Message is one stream entry.
type Message struct {
	ID     string
	Fields map[string]string
}

// Consumer clusters requests read from the events stream.
// A Consumer is not safe for concurrent use.
type Consumer struct {
	pool    Pool
	engine  *engine.Engine
	cfg     config.RedisConfig
	count   int
	block   time.Duration
	backoff time.Duration

	// pending makes the next Poll re-read this consumer's delivered but
	// unacknowledged entries instead of new ones.
	pending bool
}

// NewConsumer creates a consumer for the configured stream and group.
func NewConsumer(pool Pool, eng *engine.Engine, cfg config.RedisConfig) *Consumer {
	return &Consumer{
		pool:    pool,
		engine:  eng,
		cfg:     cfg,
		count:   DefaultReadCount,
		block:   DefaultBlock,
		backoff: ErrorBackoff,
	}
}

// EnsureGroup creates the consumer group, creating the stream if needed.
// An existing group is not an error.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	_, err = redis.DoContext(conn, ctx, "XGROUP", "CREATE", c.cfg.EventsStream, c.cfg.Group, "$", "MKSTREAM")
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", c.cfg.Group, c.cfg.EventsStream, err)
	}
	return nil
}

// Run reads and processes entries until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	// Entries delivered to a previous run of this consumer are still pending
	c.pending = true

	log.Info().
		Str("stream", c.cfg.EventsStream).
		Str("group", c.cfg.Group).
		Str("consumer", c.cfg.Consumer).
		Msg("Stream consumer listening")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := c.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("Stream read failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
		}
	}
}

// Poll performs one read and processes what it returned. While entries are
// pending it re-reads them with id 0 without blocking; otherwise it blocks for
// new entries. A failed entry does not stop the rest of the batch, and marks
// the pending list for another pass. It returns the number of entries handled.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	args := []interface{}{"GROUP", c.cfg.Group, c.cfg.Consumer, "COUNT", c.count}
	startID := ">"
	if c.pending {
		startID = "0"
	} else {
		args = append(args, "BLOCK", c.block.Milliseconds())
	}
	args = append(args, "STREAMS", c.cfg.EventsStream, startID)

	reply, err := redis.DoContext(conn, ctx, "XREADGROUP", args...)
	if err != nil {
		return 0, fmt.Errorf("xreadgroup: %w", err)
	}

	messages, err := ParseReadReply(reply)
	if err != nil {
		return 0, err
	}

	if c.pending && len(messages) == 0 {
		c.pending = false
		return 0, nil
	}

	var (
		handled int
		errs    []error
	)
	for _, msg := range messages {
		if err := c.handle(ctx, conn, msg); err != nil {
			errs = append(errs, err)
			continue
		}
		handled++
	}
	if len(errs) > 0 {
		c.pending = true
		return handled, errors.Join(errs...)
	}
	return handled, nil
}

// handle clusters one entry. Entries that cannot be processed are logged and
// acknowledged so they never block the group. A failure to write the result,
// or a cancelled context, leaves the entry pending for the next pending pass.
func (c *Consumer) handle(ctx context.Context, conn redis.Conn, msg Message) error {
	logger := log.With().Str("stream", c.cfg.EventsStream).Str("event_id", msg.ID).Logger()
	ctx = logger.WithContext(ctx)

	payload, ok := msg.Fields[PayloadField]
	if !ok {
		logger.Warn().Msg("Stream entry has no payload, skipping")
		return c.ack(ctx, conn, msg.ID)
	}

	var req models.ClusterRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		logger.Warn().Err(err).Msg("Stream payload is not a cluster request, skipping")
		return c.ack(ctx, conn, msg.ID)
	}

	resp, err := c.engine.Cluster(ctx, &req, metrics.TransportStream)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Stream cluster request rejected")
		return c.ack(ctx, conn, msg.ID)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response for %s: %w", msg.ID, err)
	}
	if _, err := redis.DoContext(conn, ctx, "XADD", c.cfg.ResultsStream, "*", "event_id", msg.ID, PayloadField, data); err != nil {
		return fmt.Errorf("xadd %s: %w", c.cfg.ResultsStream, err)
	}

	return c.ack(ctx, conn, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, conn redis.Conn, id string) error {
	if _, err := redis.DoContext(conn, ctx, "XACK", c.cfg.EventsStream, c.cfg.Group, id); err != nil {
		return fmt.Errorf("xack %s: %w", id, err)
	}
	return nil
}

// ParseReadReply decodes an XREAD/XREADGROUP reply into messages.
// A nil reply (read timed out) yields no messages.
func ParseReadReply(reply interface{}) ([]Message, error) {
	if reply == nil {
		return nil, nil
	}
	streams, err := redis.Values(reply, nil)
	if err != nil {
		return nil, fmt.Errorf("parse streams: %w", err)
	}

	var messages []Message
	for _, s := range streams {
		pair, err := redis.Values(s, nil)
		if err != nil {
			return nil, fmt.Errorf("parse stream: %w", err)
		}
		if len(pair) != 2 {
			return nil, fmt.Errorf("parse stream: expected name and entries, got %d elements", len(pair))
		}
		entries, err := redis.Values(pair[1], nil)
		if err != nil {
			return nil, fmt.Errorf("parse entries: %w", err)
		}
		for _, e := range entries {
			kv, err := redis.Values(e, nil)
			if err != nil {
				return nil, fmt.Errorf("parse entry: %w", err)
			}
			if len(kv) != 2 {
				return nil, fmt.Errorf("parse entry: expected id and fields, got %d elements", len(kv))
			}
			id, err := redis.String(kv[0], nil)
			if err != nil {
				return nil, fmt.Errorf("parse entry id: %w", err)
			}
			fields, err := redis.StringMap(kv[1], nil)
			if err != nil && !errors.Is(err, redis.ErrNil) {
				return nil, fmt.Errorf("parse entry %s fields: %w", id, err)
			}
			if fields == nil {
				fields = map[string]string{}
			}
			messages = append(messages, Message{ID: id, Fields: fields})
		}
	}
	return messages, nil
}

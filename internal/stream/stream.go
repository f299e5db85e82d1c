// Package stream moves cluster requests through Redis streams.
//
// The Producer appends raw request payloads to the events stream. The Consumer
// reads them through a consumer group, clusters each one, appends the response
// to the results stream and acknowledges the message.
package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
)

// PayloadField is the stream entry field holding the JSON body.
const PayloadField = "payload"

// Pool hands out Redis connections. *redis.Pool satisfies it.
type Pool interface {
	GetContext(ctx context.Context) (redis.Conn, error)
}

// NewPool creates a connection pool for the given redis:// URL.
func NewPool(url string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.DialURL(url)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// Producer appends payloads to a stream.
type Producer struct {
	pool   Pool
	stream string
}

// NewProducer creates a producer writing to the named stream.
func NewProducer(pool Pool, stream string) *Producer {
	return &Producer{pool: pool, stream: stream}
}

// Publish appends payload to the stream and returns the entry id.
func (p *Producer) Publish(ctx context.Context, payload []byte) (string, error) {
	conn, err := p.pool.GetContext(ctx)
	if err != nil {
		return "", fmt.Errorf("get redis connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	id, err := redis.String(redis.DoContext(conn, ctx, "XADD", p.stream, "*", PayloadField, payload))
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return id, nil
}

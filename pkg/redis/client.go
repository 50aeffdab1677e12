// Package redis is a thin wrapper around go-redis used by pkg/bridge to
// optionally fan batches out to Redis subscribers alongside the
// WebSocket broadcast (spec.md §6, §9 open question on Sink policy).
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client publishes encoded batches to a single Redis Pub/Sub channel.
// It carries none of the HSet/BRPop/state-mapping surface a full
// key/value client would need, since the Bridge's only use of Redis is
// fan-out publish.
type Client struct {
	client *redis.Client
	ctx    context.Context
}

// New dials addr and verifies the connection with a PING.
func New(addr, password string, db int) (*Client, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx := context.Background()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return &Client{client: c, ctx: ctx}, nil
}

// Publish sends payload verbatim to channel.
func (c *Client) Publish(channel string, payload []byte) error {
	return c.client.Publish(c.ctx, channel, payload).Err()
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

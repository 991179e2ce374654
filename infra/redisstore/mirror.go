// Package redisstore mirrors request snapshots into Redis for read replicas and
// dashboards.
package redisstore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kilianp07/bloodlink/core/dispatch"
)

// ErrNotFound is returned by Get when no snapshot is stored for the id.
var ErrNotFound = errors.New("status not found")

// Config defines the Redis connection and key layout.
type Config struct {
	URL       string        `json:"url"`
	KeyPrefix string        `json:"key_prefix"`
	Channel   string        `json:"channel"`
	TTL       time.Duration `json:"ttl"`
}

// SetDefaults fills empty fields.
func (c *Config) SetDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "bloodlink:request:"
	}
	if c.Channel == "" {
		c.Channel = "bloodlink:status"
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
}

// StatusMirror implements dispatch.StatusMirror. Each snapshot is stored
// under its request key with a TTL and published on the status channel.
type StatusMirror struct {
	rdb *redis.Client
	cfg Config
}

// NewStatusMirror connects to cfg.URL and verifies the connection.
func NewStatusMirror(ctx context.Context, cfg Config) (*StatusMirror, error) {
	cfg.SetDefaults()
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.MaxRetries = 3
	if opts.TLSConfig == nil && strings.HasPrefix(cfg.URL, "rediss://") {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &StatusMirror{rdb: rdb, cfg: cfg}, nil
}

func (m *StatusMirror) key(id string) string { return m.cfg.KeyPrefix + id }

// Mirror stores and publishes s.
func (m *StatusMirror) Mirror(ctx context.Context, s dispatch.Status) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, m.key(s.RequestID), b, m.cfg.TTL)
		p.Publish(ctx, m.cfg.Channel, b)
		return nil
	})
	return err
}

// Get returns the last mirrored snapshot of id.
func (m *StatusMirror) Get(ctx context.Context, id string) (dispatch.Status, error) {
	b, err := m.rdb.Get(ctx, m.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return dispatch.Status{}, ErrNotFound
	}
	if err != nil {
		return dispatch.Status{}, err
	}
	var s dispatch.Status
	if err := json.Unmarshal(b, &s); err != nil {
		return dispatch.Status{}, err
	}
	return s, nil
}

// Subscribe streams mirrored snapshots until ctx is done. The returned
// channel is closed when the subscription ends.
func (m *StatusMirror) Subscribe(ctx context.Context) (<-chan dispatch.Status, error) {
	ps := m.rdb.Subscribe(ctx, m.cfg.Channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	out := make(chan dispatch.Status, 16)
	go func() {
		defer close(out)
		defer func() { _ = ps.Close() }()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var s dispatch.Status
				if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
					continue
				}
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the client.
func (m *StatusMirror) Close() error { return m.rdb.Close() }

var _ dispatch.StatusMirror = (*StatusMirror)(nil)

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"taskpulse/internal/logger"
	"taskpulse/internal/model"
)

// Connect opens a go-redis client and pings it before handing it out.
func Connect(ctx context.Context, addr string) (*goredis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// RedisPublisher fans alerts out on a pub/sub channel for UI clients.
type RedisPublisher struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewRedisPublisher(rdb *goredis.Client, channel string, log *logger.Logger) *RedisPublisher {
	if channel == "" {
		channel = "alerts"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RedisPublisher{log: log.With("service", "RedisPublisher"), rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, alert model.Alert) error {
	if p == nil || p.rdb == nil {
		return fmt.Errorf("redis publisher not initialized")
	}
	raw, err := json.Marshal(Message{Type: MessageAlert, Alert: alert})
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, raw).Err()
}

// Subscribe forwards alerts published on the channel to onAlert until ctx is done.
func (p *RedisPublisher) Subscribe(ctx context.Context, onAlert func(model.Alert)) error {
	if onAlert == nil {
		return fmt.Errorf("onAlert callback required")
	}
	sub := p.rdb.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok || m == nil {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				p.log.Warn("bad alert payload", "error", err)
				continue
			}
			if msg.Type == MessageAlert {
				onAlert(msg.Alert)
			}
		}
	}
}

func (p *RedisPublisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}

// RedisCooldown shares digest suppression across instances with SET NX plus expiry.
type RedisCooldown struct {
	rdb    *goredis.Client
	prefix string
}

func NewRedisCooldown(rdb *goredis.Client, prefix string) *RedisCooldown {
	if prefix == "" {
		prefix = "taskpulse:cooldown:"
	}
	return &RedisCooldown{rdb: rdb, prefix: prefix}
}

func (c *RedisCooldown) Allow(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, c.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown %s: %w", key, err)
	}
	return ok, nil
}

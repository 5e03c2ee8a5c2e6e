package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taskpulse/internal/clock"
	"taskpulse/internal/model"
)

const MessageAlert = "alert"

// Message is the JSON envelope published for every alert.
type Message struct {
	Type  string      `json:"type"`
	Alert model.Alert `json:"alert"`
}

// Publisher delivers alerts to live clients.
type Publisher interface {
	Publish(ctx context.Context, alert model.Alert) error
}

// Nop drops every alert. Used when Redis is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, model.Alert) error { return nil }

// Cooldown suppresses repeated notifications for the same key within ttl.
type Cooldown interface {
	Allow(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// CooldownKey identifies one rule firing on one task for one user.
func CooldownKey(alert model.Alert) string {
	return fmt.Sprintf("%d:%d:%s", alert.UserID, alert.TaskID, alert.RuleID)
}

// MemoryCooldown is a process-local Cooldown.
type MemoryCooldown struct {
	mu    sync.Mutex
	clock clock.Clock
	until map[string]time.Time
}

func NewMemoryCooldown(clk clock.Clock) *MemoryCooldown {
	if clk == nil {
		clk = clock.System{}
	}
	return &MemoryCooldown{clock: clk, until: make(map[string]time.Time)}
}

func (c *MemoryCooldown) Allow(_ context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if exp, ok := c.until[key]; ok && now.Before(exp) {
		return false, nil
	}
	c.until[key] = now.Add(ttl)

	for k, exp := range c.until {
		if !now.Before(exp) {
			delete(c.until, k)
		}
	}
	return true, nil
}

package model

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority accepts low/medium/high in any case; empty input means medium.
func ParsePriority(raw string) (Priority, bool) {
	switch Priority(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PriorityMedium:
		return PriorityMedium, true
	case PriorityLow:
		return PriorityLow, true
	case PriorityHigh:
		return PriorityHigh, true
	default:
		return "", false
	}
}

// Task represents a single item in the planner.
type Task struct {
	ID          uint                        `gorm:"primaryKey" json:"id"`
	UserID      uint                        `gorm:"index" json:"user_id"`
	Title       string                      `json:"title"`
	Description string                      `json:"description,omitempty"`
	DueDate     *time.Time                  `json:"due_date,omitempty"`
	Priority    Priority                    `gorm:"size:16;default:medium" json:"priority"`
	Tags        datatypes.JSONSlice[string] `json:"tags"`
	SkipCount   int                         `gorm:"not null;default:0" json:"skip_count"`
	IsCompleted bool                        `gorm:"default:false" json:"is_completed"`
	CompletedAt *time.Time                  `json:"completed_at,omitempty"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// HasTag reports whether the task carries tag (tags are stored normalized).
func (t Task) HasTag(tag string) bool {
	for _, own := range t.Tags {
		if own == tag {
			return true
		}
	}
	return false
}

// NormalizeTags lowercases and trims tags, dropping blanks and duplicates while keeping first-seen order.
func NormalizeTags(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, tag := range raw {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

package detector

import (
	"sort"
	"time"

	"taskpulse/internal/apperr"
	"taskpulse/internal/model"
)

// History is the per-task slice of the event log the extractor needs.
// LastReset is the latest completion or reopen of the task.
type History struct {
	Skips     []time.Time
	LastReset *time.Time
}

// TagPeers lists the skip counts of peer tasks sharing one tag with the evaluated task.
type TagPeers struct {
	Tag        string
	SkipCounts []int
}

// Signals are the derived rule inputs for one task. They are recomputed on every pass.
type Signals struct {
	SkipCount         int
	HasDeadline       bool
	TimeToDue         time.Duration
	DaysOverdue       int
	PeerSkipRate      float64
	TagPeerCount      int
	UserAvgSkips      float64
	DeferralStreak    int
	StreakFromHistory bool
	Tags              []TagPeers
}

// Extract derives signals for task from its peers. Peers with the task's own id are ignored, so the
// caller may pass the full task set. A nil history falls back to the raw skip count for the streak.
func Extract(task model.Task, peers []model.Task, history *History, now time.Time) (Signals, error) {
	if task.ID == 0 {
		return Signals{}, apperr.Validation("extract signals", "task id is required")
	}
	if task.UserID == 0 {
		return Signals{}, apperr.Validation("extract signals", "task %d has no owner", task.ID)
	}

	s := Signals{SkipCount: max(task.SkipCount, 0)}

	if task.DueDate != nil {
		s.HasDeadline = true
		s.TimeToDue = task.DueDate.Sub(now)
		if s.TimeToDue < 0 {
			s.DaysOverdue = int(-s.TimeToDue / (24 * time.Hour))
		}
	}

	var (
		allSkips, allCount int
		tagSkips, tagCount int
	)
	byTag := make(map[string][]int, len(task.Tags))
	for _, peer := range peers {
		if peer.ID == task.ID {
			continue
		}
		allSkips += max(peer.SkipCount, 0)
		allCount++

		shared := false
		for _, tag := range task.Tags {
			if peer.HasTag(tag) {
				byTag[tag] = append(byTag[tag], max(peer.SkipCount, 0))
				shared = true
			}
		}
		if shared {
			tagSkips += max(peer.SkipCount, 0)
			tagCount++
		}
	}

	if allCount > 0 {
		s.UserAvgSkips = float64(allSkips) / float64(allCount)
	}
	tagAvg := 0.0
	if tagCount > 0 {
		tagAvg = float64(tagSkips) / float64(tagCount)
	}
	s.TagPeerCount = tagCount
	s.PeerSkipRate = float64(s.SkipCount) / (1 + tagAvg)
	if s.PeerSkipRate < 0 {
		s.PeerSkipRate = 0
	}

	for _, tag := range task.Tags {
		if counts, ok := byTag[tag]; ok {
			s.Tags = append(s.Tags, TagPeers{Tag: tag, SkipCounts: counts})
		}
	}

	s.DeferralStreak = s.SkipCount
	if history != nil {
		streak := 0
		for _, at := range history.Skips {
			if history.LastReset == nil || at.After(*history.LastReset) {
				streak++
			}
		}
		s.DeferralStreak = min(streak, s.SkipCount)
		s.StreakFromHistory = true
	}

	return s, nil
}

// BuildHistories groups skip/complete/reopen events by task. Tasks without any such event are left
// out so that Extract falls back to their skip count.
func BuildHistories(events []model.AnalyticsEvent) map[uint]*History {
	sorted := make([]model.AnalyticsEvent, 0, len(events))
	for _, ev := range events {
		switch ev.Kind {
		case model.EventTaskSkipped, model.EventTaskCompleted, model.EventTaskReopened:
			if ev.TaskID != 0 {
				sorted = append(sorted, ev)
			}
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
	})

	out := make(map[uint]*History)
	for _, ev := range sorted {
		h := out[ev.TaskID]
		if h == nil {
			h = &History{}
			out[ev.TaskID] = h
		}
		at := ev.OccurredAt
		switch ev.Kind {
		case model.EventTaskSkipped:
			h.Skips = append(h.Skips, at)
		default:
			h.LastReset = &at
		}
	}
	return out
}

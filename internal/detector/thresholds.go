package detector

import (
	"fmt"
	"time"
)

// Thresholds tune the detection rules. Zero values are invalid; start from DefaultThresholds.
type Thresholds struct {
	OverdueDays     int `yaml:"overdue_days"`
	OverdueMinSkips int `yaml:"overdue_min_skips"`

	ChronicStreak         int `yaml:"chronic_streak"`
	ChronicCriticalStreak int `yaml:"chronic_critical_streak"`

	NeglectWindow   time.Duration `yaml:"neglect_window"`
	NeglectMinSkips int           `yaml:"neglect_min_skips"`

	DeadlineNoticeWindow time.Duration `yaml:"deadline_notice_window"`
	DeadlineUrgentWindow time.Duration `yaml:"deadline_urgent_window"`

	PatternMinSkips int     `yaml:"pattern_min_skips"`
	PatternMinPeers int     `yaml:"pattern_min_peers"`
	PatternRatio    float64 `yaml:"pattern_ratio"`

	PeerMinSkips int     `yaml:"peer_min_skips"`
	PeerMultiple float64 `yaml:"peer_multiple"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		OverdueDays:           3,
		OverdueMinSkips:       2,
		ChronicStreak:         3,
		ChronicCriticalStreak: 5,
		NeglectWindow:         48 * time.Hour,
		NeglectMinSkips:       1,
		DeadlineNoticeWindow:  24 * time.Hour,
		DeadlineUrgentWindow:  6 * time.Hour,
		PatternMinSkips:       2,
		PatternMinPeers:       2,
		PatternRatio:          0.5,
		PeerMinSkips:          2,
		PeerMultiple:          2.0,
	}
}

func (t Thresholds) Validate() error {
	switch {
	case t.OverdueDays < 0:
		return fmt.Errorf("overdue_days must be >= 0")
	case t.OverdueMinSkips < 0:
		return fmt.Errorf("overdue_min_skips must be >= 0")
	case t.ChronicStreak < 1:
		return fmt.Errorf("chronic_streak must be >= 1")
	case t.ChronicCriticalStreak < t.ChronicStreak:
		return fmt.Errorf("chronic_critical_streak must be >= chronic_streak")
	case t.NeglectWindow <= 0:
		return fmt.Errorf("neglect_window must be positive")
	case t.NeglectMinSkips < 0:
		return fmt.Errorf("neglect_min_skips must be >= 0")
	case t.DeadlineNoticeWindow <= 0 || t.DeadlineUrgentWindow <= 0:
		return fmt.Errorf("deadline windows must be positive")
	case t.DeadlineUrgentWindow > t.DeadlineNoticeWindow:
		return fmt.Errorf("deadline_urgent_window must not exceed deadline_notice_window")
	case t.PatternMinPeers < 1:
		return fmt.Errorf("pattern_min_peers must be >= 1")
	case t.PatternRatio <= 0 || t.PatternRatio > 1:
		return fmt.Errorf("pattern_ratio must be in (0, 1]")
	case t.PeerMultiple <= 0:
		return fmt.Errorf("peer_multiple must be positive")
	}
	return nil
}

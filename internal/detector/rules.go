package detector

import (
	"fmt"
	"math"
	"time"

	"taskpulse/internal/model"
)

const (
	RuleOverdueCritical     = "overdue-critical"
	RuleChronicSkip         = "chronic-skip"
	RuleHighPriorityNeglect = "high-priority-neglect"
	RuleDeadlineApproaching = "deadline-approaching"
	RuleTagPattern          = "tag-pattern"
	RulePeerAnomaly         = "peer-anomaly"
)

// finding is what a rule reports when it matches.
type finding struct {
	severity model.Severity
	message  string
}

// Rule inspects one task's signals. Order in the rule set is the tie-break priority.
type Rule struct {
	ID    string
	match func(task model.Task, s Signals, th Thresholds) (finding, bool)
}

// DefaultRules returns the rule set in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{ID: RuleOverdueCritical, match: overdueCritical},
		{ID: RuleChronicSkip, match: chronicSkip},
		{ID: RuleHighPriorityNeglect, match: highPriorityNeglect},
		{ID: RuleDeadlineApproaching, match: deadlineApproaching},
		{ID: RuleTagPattern, match: tagPattern},
		{ID: RulePeerAnomaly, match: peerAnomaly},
	}
}

func overdueCritical(task model.Task, s Signals, th Thresholds) (finding, bool) {
	if !s.HasDeadline || s.TimeToDue >= 0 {
		return finding{}, false
	}
	// DaysOverdue is floored, so the cutoff is checked on the exact duration.
	if -s.TimeToDue <= time.Duration(th.OverdueDays)*24*time.Hour || s.SkipCount < th.OverdueMinSkips {
		return finding{}, false
	}
	return finding{
		severity: model.SeverityCritical,
		message: fmt.Sprintf("%q is %s overdue and has been skipped %s.",
			task.Title, plural(s.DaysOverdue, "day"), plural(s.SkipCount, "time")),
	}, true
}

func chronicSkip(task model.Task, s Signals, th Thresholds) (finding, bool) {
	if s.DeferralStreak < th.ChronicStreak {
		return finding{}, false
	}
	if s.DeferralStreak >= th.ChronicCriticalStreak {
		return finding{
			severity: model.SeverityCritical,
			message: fmt.Sprintf("%q has been put off %s in a row. Let's find one small step to start it now.",
				task.Title, plural(s.DeferralStreak, "time")),
		}, true
	}
	return finding{
		severity: model.SeverityWarning,
		message: fmt.Sprintf("You've put off %q %s in a row. Would you like to reschedule or break it down?",
			task.Title, plural(s.DeferralStreak, "time")),
	}, true
}

func highPriorityNeglect(task model.Task, s Signals, th Thresholds) (finding, bool) {
	if task.Priority != model.PriorityHigh || !s.HasDeadline {
		return finding{}, false
	}
	if s.TimeToDue > th.NeglectWindow || s.SkipCount < th.NeglectMinSkips || s.SkipCount < 1 {
		return finding{}, false
	}
	return finding{
		severity: model.SeverityWarning,
		message: fmt.Sprintf("%q is high priority and %s, but it has been skipped %s.",
			task.Title, duephrase(s.TimeToDue), plural(s.SkipCount, "time")),
	}, true
}

func deadlineApproaching(task model.Task, s Signals, th Thresholds) (finding, bool) {
	if !s.HasDeadline || s.TimeToDue <= 0 || s.TimeToDue > th.DeadlineNoticeWindow {
		return finding{}, false
	}
	if s.TimeToDue <= th.DeadlineUrgentWindow {
		return finding{
			severity: model.SeverityWarning,
			message:  fmt.Sprintf("%q is %s. Time to get started!", task.Title, duephraseIn(s.TimeToDue)),
		}, true
	}
	return finding{
		severity: model.SeverityInfo,
		message:  fmt.Sprintf("Gentle reminder: %q is %s.", task.Title, duephraseIn(s.TimeToDue)),
	}, true
}

func tagPattern(task model.Task, s Signals, th Thresholds) (finding, bool) {
	if s.SkipCount < th.PatternMinSkips {
		return finding{}, false
	}
	for _, tp := range s.Tags {
		if len(tp.SkipCounts) < th.PatternMinPeers {
			continue
		}
		skipped := 0
		for _, c := range tp.SkipCounts {
			if c >= th.PatternMinSkips {
				skipped++
			}
		}
		if float64(skipped)/float64(len(tp.SkipCounts)) >= th.PatternRatio {
			return finding{
				severity: model.SeverityInfo,
				message: fmt.Sprintf("Pattern detected: you often avoid tasks tagged %q (%d of %d other tasks keep getting skipped).",
					tp.Tag, skipped, len(tp.SkipCounts)),
			}, true
		}
	}
	return finding{}, false
}

func peerAnomaly(task model.Task, s Signals, th Thresholds) (finding, bool) {
	if s.SkipCount < th.PeerMinSkips {
		return finding{}, false
	}
	baseline := math.Max(s.UserAvgSkips, 1)
	if s.PeerSkipRate <= th.PeerMultiple*baseline {
		return finding{}, false
	}
	return finding{
		severity: model.SeverityInfo,
		message: fmt.Sprintf("%q has been skipped %s, well above your usual pattern for similar tasks.",
			task.Title, plural(s.SkipCount, "time")),
	}, true
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func duephraseIn(d time.Duration) string {
	hours := int(d / time.Hour)
	if hours < 1 {
		return "due in less than an hour"
	}
	return "due in " + plural(hours, "hour")
}

func duephrase(d time.Duration) string {
	if d >= 0 {
		return duephraseIn(d)
	}
	hours := int(-d / time.Hour)
	if hours < 24 {
		return "overdue"
	}
	return plural(hours/24, "day") + " overdue"
}

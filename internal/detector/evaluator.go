package detector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"taskpulse/internal/model"
)

// alertNamespace seeds deterministic alert ids.
var alertNamespace = uuid.MustParse("6f1c0a52-4d7e-4b8a-9a33-2f9e5c1d7b40")

const defaultConcurrency = 8

// Evaluator applies an ordered rule set to tasks. It holds no per-request state.
type Evaluator struct {
	th          Thresholds
	rules       []Rule
	concurrency int
}

func NewEvaluator(th Thresholds) *Evaluator {
	return &Evaluator{th: th, rules: DefaultRules(), concurrency: defaultConcurrency}
}

func (e *Evaluator) Thresholds() Thresholds { return e.th }

// Evaluate returns at most one alert for task. Rules run in priority order; the first match is kept
// unless a later rule reports a strictly higher severity.
func (e *Evaluator) Evaluate(task model.Task, s Signals, now time.Time) *model.Alert {
	if task.IsCompleted {
		return nil
	}

	var (
		best   finding
		ruleID string
	)
	for _, rule := range e.rules {
		f, ok := rule.match(task, s, e.th)
		if !ok {
			continue
		}
		if ruleID == "" || f.severity.Rank() > best.severity.Rank() {
			best, ruleID = f, rule.ID
		}
	}
	if ruleID == "" {
		return nil
	}

	return &model.Alert{
		ID:          AlertID(task.UserID, task.ID, ruleID, now),
		TaskID:      task.ID,
		UserID:      task.UserID,
		TaskTitle:   task.Title,
		DueDate:     task.DueDate,
		Severity:    best.severity,
		RuleID:      ruleID,
		Message:     best.message,
		GeneratedAt: now,
	}
}

// Check extracts signals and evaluates a single task against its peers.
func (e *Evaluator) Check(task model.Task, peers []model.Task, history *History, now time.Time) (*model.Alert, Signals, error) {
	s, err := Extract(task, peers, history, now)
	if err != nil {
		return nil, Signals{}, err
	}
	return e.Evaluate(task, s, now), s, nil
}

// Evaluated pairs an alert with the signals that produced it.
type Evaluated struct {
	Alert   model.Alert
	Signals Signals
}

// EvaluateAll runs every open task against the rest of the set and returns at most one alert per task,
// ordered by severity (critical first), then due date (soonest first, undated last), then task id.
func (e *Evaluator) EvaluateAll(ctx context.Context, tasks []model.Task, histories map[uint]*History, now time.Time) ([]Evaluated, error) {
	results := make([]*Evaluated, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range tasks {
		if tasks[i].IsCompleted {
			continue
		}
		i := i // per-iteration copy (go directive is 1.21)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			alert, s, err := e.Check(tasks[i], tasks, histories[tasks[i].ID], now)
			if err != nil {
				return fmt.Errorf("evaluate task %d: %w", tasks[i].ID, err)
			}
			if alert != nil {
				results[i] = &Evaluated{Alert: *alert, Signals: s}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byTask := make(map[uint]int)
	out := make([]Evaluated, 0, len(tasks))
	for _, r := range results {
		if r == nil {
			continue
		}
		if idx, seen := byTask[r.Alert.TaskID]; seen {
			if r.Alert.Severity.Rank() > out[idx].Alert.Severity.Rank() {
				out[idx] = *r
			}
			continue
		}
		byTask[r.Alert.TaskID] = len(out)
		out = append(out, *r)
	}

	SortAlerts(out)
	return out, nil
}

// Alerts strips the signals from evaluated results.
func Alerts(evaluated []Evaluated) []model.Alert {
	out := make([]model.Alert, 0, len(evaluated))
	for _, ev := range evaluated {
		out = append(out, ev.Alert)
	}
	return out
}

func SortAlerts(list []Evaluated) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].Alert, list[j].Alert
		if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
			return ra > rb
		}
		switch {
		case a.DueDate != nil && b.DueDate == nil:
			return true
		case a.DueDate == nil && b.DueDate != nil:
			return false
		case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		}
		return a.TaskID < b.TaskID
	})
}

// AlertID is stable for the same user, task, rule and generation instant.
func AlertID(userID, taskID uint, ruleID string, at time.Time) string {
	name := fmt.Sprintf("%d:%d:%s:%d", userID, taskID, ruleID, at.UTC().UnixNano())
	return uuid.NewSHA1(alertNamespace, []byte(name)).String()
}

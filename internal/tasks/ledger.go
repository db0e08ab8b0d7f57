// Package tasks implements confirm-before-apply execution of the mutations
// proposed while reconciling commits. A task runs only when an identical
// (type, key, value) triple was approved beforehand; everything else is
// recorded as unconfirmed for review.
package tasks

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/steveyegge/backport/internal/telemetry"
	"github.com/steveyegge/backport/internal/types"
)

const scopeName = "github.com/steveyegge/backport/tasks"

// Action performs a task's side effect and returns a short result, such as
// the id of a created commit or issue.
type Action func(ctx context.Context) (string, error)

// Ledger gates task execution on a set of approved identities and records
// every task proposed through it.
type Ledger struct {
	Logger *slog.Logger

	mu       sync.Mutex
	approved map[types.TaskIdentity]bool
	proposed []*types.CommitTask
	counter  metric.Int64Counter
}

// NewLedger returns a ledger approving exactly the given identities.
// A nil or empty list approves nothing.
func NewLedger(approved []types.TaskIdentity, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	set := make(map[types.TaskIdentity]bool, len(approved))
	for _, id := range approved {
		set[id] = true
	}
	counter, _ := telemetry.Meter(scopeName).Int64Counter("bp.tasks",
		metric.WithDescription("Tasks applied through the ledger by type and resulting state"),
	)
	return &Ledger{Logger: logger, approved: set, counter: counter}
}

// Approved reports whether id was approved.
func (l *Ledger) Approved(id types.TaskIdentity) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.approved[id]
}

// Apply records task and, if its identity is approved, runs action. The task
// ends EXECUTED or FAILED when the action ran and UNCONFIRMED otherwise.
// It reports whether the action ran successfully.
func (l *Ledger) Apply(ctx context.Context, task *types.CommitTask, action Action) bool {
	l.mu.Lock()
	l.proposed = append(l.proposed, task)
	approved := l.approved[task.Identity()]
	l.mu.Unlock()

	defer func() {
		l.counter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("task.type", string(task.Type)),
			attribute.String("task.state", string(task.State)),
		))
	}()

	if !approved {
		task.State = types.TaskUnconfirmed
		task.Result = ""
		l.Logger.Debug("task not confirmed", "task", task.Identity().String())
		return false
	}

	result, err := action(ctx)
	if err != nil {
		task.State = types.TaskFailed
		task.Result = err.Error()
		l.Logger.Warn("task failed", "task", task.Identity().String(), "error", err)
		return false
	}
	task.State = types.TaskExecuted
	task.Result = result
	l.Logger.Info("task executed", "task", task.Identity().String(), "result", result)
	return true
}

// Proposed returns every task applied through the ledger, in order.
func (l *Ledger) Proposed() []*types.CommitTask {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*types.CommitTask, len(l.proposed))
	copy(out, l.proposed)
	return out
}

// Unconfirmed returns the identities of proposed tasks that still await
// approval, without duplicates.
func (l *Ledger) Unconfirmed() []types.TaskIdentity {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[types.TaskIdentity]bool)
	var out []types.TaskIdentity
	for _, t := range l.proposed {
		id := t.Identity()
		if t.State != types.TaskUnconfirmed || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Package jobs contains the scheduled jobs of the leaderboard service.
package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lqo-hub/lqo-leaderboard/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// JobName is the scheduler name of the update job.
const JobName = "update_leaderboard"

// Updater runs one update cycle.
type Updater interface {
	Handle(ctx context.Context, cmd command.UpdateLeaderboardCommand) (*command.UpdateLeaderboardResult, error)
}

// UpdateLeaderboardJob adapts the update coordinator to the scheduler.
type UpdateLeaderboardJob struct {
	updater Updater
	logger  *slog.Logger
	timeout time.Duration

	runs      atomic.Int64
	failures  atomic.Int64
	skipped   atomic.Int64
	lastStats atomic.Pointer[command.UpdateLeaderboardResult]
}

// NewUpdateLeaderboardJob creates the job. timeout <= 0 means no per-run deadline.
func NewUpdateLeaderboardJob(updater Updater, timeout time.Duration, logger *slog.Logger) *UpdateLeaderboardJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdateLeaderboardJob{
		updater: updater,
		logger:  logger.With("job", JobName),
		timeout: timeout,
	}
}

// Name returns the job name.
func (j *UpdateLeaderboardJob) Name() string { return JobName }

// Description returns a human-readable description.
func (j *UpdateLeaderboardJob) Description() string {
	return "fetch new games, merge them into the archive and recompute ratings"
}

// Run executes one cycle. A held lease is a skip, not a failure.
func (j *UpdateLeaderboardJob) Run(ctx context.Context) error {
	return j.run(ctx, TriggerFrom(ctx))
}

type triggerKey struct{}

// WithTrigger labels the runs started with ctx (e.g. "manual").
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

// TriggerFrom returns the trigger label, "scheduler" by default.
func TriggerFrom(ctx context.Context) string {
	if t, ok := ctx.Value(triggerKey{}).(string); ok && t != "" {
		return t
	}
	return "scheduler"
}

func (j *UpdateLeaderboardJob) run(ctx context.Context, trigger string) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	j.runs.Add(1)
	res, err := j.updater.Handle(ctx, command.UpdateLeaderboardCommand{Trigger: trigger})
	if err != nil {
		j.failures.Add(1)
		return err
	}
	if res.Skipped {
		j.skipped.Add(1)
		j.logger.Info("update skipped, lease held elsewhere", "trigger", trigger)
	}
	j.lastStats.Store(res)
	return nil
}

// Stats is a point-in-time view of the job counters.
type Stats struct {
	Runs     int64                            `json:"runs"`
	Failures int64                            `json:"failures"`
	Skipped  int64                            `json:"skipped"`
	Last     *command.UpdateLeaderboardResult `json:"last,omitempty"`
}

// Stats returns the counters.
func (j *UpdateLeaderboardJob) Stats() Stats {
	return Stats{
		Runs:     j.runs.Load(),
		Failures: j.failures.Load(),
		Skipped:  j.skipped.Load(),
		Last:     j.lastStats.Load(),
	}
}

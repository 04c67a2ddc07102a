// Package indexer keeps the search index fresh by rebuilding it on a cron
// schedule.
//
// Writes through the repository already update the index in the same
// transaction as the profile. The periodic rebuild repairs drift from
// anything that bypassed that path (manual SQL, restored backups) and picks
// up changes to derived text such as localized country names.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Reindexer rebuilds the search index and returns the document count.
type Reindexer interface {
	ReindexProfiles(ctx context.Context) (int, error)
}

// runTimeout bounds a single rebuild.
const runTimeout = 5 * time.Minute

// Job runs Reindexer on a schedule.
type Job struct {
	target   Reindexer
	schedule cron.Schedule
	spec     string
	cron     *cron.Cron
	logger   *slog.Logger
}

// New parses spec (standard 5-field cron or a descriptor such as
// "@every 1h"). An empty spec yields a Job that never fires.
func New(target Reindexer, spec string, logger *slog.Logger) (*Job, error) {
	j := &Job{target: target, spec: spec, logger: logger}
	if spec == "" {
		return j, nil
	}

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("indexer: invalid schedule %q: %w", spec, err)
	}
	j.schedule = schedule
	j.cron = cron.New(cron.WithChain(
		cron.Recover(cronLogger{logger}),
		cron.SkipIfStillRunning(cronLogger{logger}),
	))
	j.cron.Schedule(schedule, cron.FuncJob(func() {
		_, _ = j.RunOnce(context.Background())
	}))
	return j, nil
}

// RunOnce rebuilds the index now.
func (j *Job) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	start := time.Now()
	n, err := j.target.ReindexProfiles(ctx)
	if err != nil {
		j.logger.Error("search reindex failed", slog.String("error", err.Error()))
		return 0, err
	}
	j.logger.Info("search reindex finished",
		slog.Int("documents", n),
		slog.Duration("duration", time.Since(start)),
	)
	return n, nil
}

// Next reports when the job fires next after t. Zero when disabled.
func (j *Job) Next(t time.Time) time.Time {
	if j.schedule == nil {
		return time.Time{}
	}
	return j.schedule.Next(t)
}

// Start begins firing in the background.
func (j *Job) Start() {
	if j.cron == nil {
		j.logger.Info("search reindex schedule disabled")
		return
	}
	j.cron.Start()
	j.logger.Info("search reindex scheduled", slog.String("schedule", j.spec))
}

// Stop prevents further runs and waits for a running rebuild to finish or
// ctx to expire.
func (j *Job) Stop(ctx context.Context) error {
	if j.cron == nil {
		return nil
	}
	select {
	case <-j.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}

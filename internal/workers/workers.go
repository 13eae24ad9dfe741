// Package workers runs periodic housekeeping for admission state.
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// PruneFunc deletes everything older than cutoff and reports how much.
type PruneFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// Job is one retention rule. Cutoff maps the run time to the oldest instant
// that must be kept.
type Job struct {
	Name   string
	Cutoff func(now time.Time) time.Time
	Prune  PruneFunc
}

type Cleaner struct {
	jobs []Job
}

func NewCleaner(jobs ...Job) *Cleaner {
	return &Cleaner{jobs: jobs}
}

// RunOnce runs every job concurrently. A failing job does not stop the
// others; the first error is returned after all have finished.
func (c *Cleaner) RunOnce(ctx context.Context, now time.Time) (map[string]int64, error) {
	var (
		mu      sync.Mutex
		removed = make(map[string]int64, len(c.jobs))
		g       errgroup.Group
	)

	for _, job := range c.jobs {
		job := job
		g.Go(func() error {
			cutoff := job.Cutoff(now)
			n, err := job.Prune(ctx, cutoff)
			if err != nil {
				log.Error().Err(err).Str("job", job.Name).Msg("cleanup job failed")
				return err
			}
			mu.Lock()
			removed[job.Name] = n
			mu.Unlock()
			log.Info().Str("job", job.Name).Int64("removed", n).Time("cutoff", cutoff).Msg("cleanup job finished")
			return nil
		})
	}

	err := g.Wait()
	return removed, err
}

// Run calls RunOnce immediately and then every interval until ctx is done.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if len(c.jobs) == 0 || interval <= 0 {
		return
	}

	c.RunOnce(ctx, time.Now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.RunOnce(ctx, now)
		}
	}
}

// StartOfMonth keeps windows belonging to the current UTC month. Anything
// older has rolled over for every window kind.
func StartOfMonth(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// OlderThan keeps the last d.
func OlderThan(d time.Duration) func(time.Time) time.Time {
	return func(now time.Time) time.Time { return now.Add(-d) }
}

// RetentionDays keeps the last days days. Zero or less disables the job.
func RetentionDays(name string, days int, prune PruneFunc) []Job {
	if days <= 0 {
		return nil
	}
	return []Job{{Name: name, Cutoff: OlderThan(time.Duration(days) * 24 * time.Hour), Prune: prune}}
}

// Package jobs runs periodic maintenance next to the HTTP server: pruning
// idle attempt-window keys, purging expired idempotency records and,
// optionally, deleting uploads no submission ever referenced.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ibelehai/way-whereareyou/internal/config"
	"github.com/ibelehai/way-whereareyou/internal/observability"
	"github.com/ibelehai/way-whereareyou/internal/repo"
	"github.com/ibelehai/way-whereareyou/internal/storage"
)

// Sweeper is an in-memory limiter that can forget idle keys.
type Sweeper interface {
	Sweep() int
}

// MediaStore is the part of the local backend the orphan sweep needs.
type MediaStore interface {
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]storage.StoredObject, error)
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

// jobTimeout bounds one run of any job.
const jobTimeout = 5 * time.Minute

// orphanBatch is how many media URLs are checked per query.
const orphanBatch = 200

// Scheduler owns the cron loop. Media may be nil, which disables the
// orphan sweep regardless of configuration.
type Scheduler struct {
	cron    *cron.Cron
	DB      *gorm.DB
	Windows []Sweeper
	Media   MediaStore
	Config  config.JobsConfig
	Now     func() time.Time
}

// New builds a scheduler; call Start to register and run the jobs.
func New(db *gorm.DB, cfg config.JobsConfig, media MediaStore, windows ...Sweeper) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		DB:      db,
		Windows: windows,
		Media:   media,
		Config:  cfg,
		Now:     time.Now,
	}
}

func every(d time.Duration) string { return fmt.Sprintf("@every %s", d) }

// Start registers the jobs and starts the loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(every(s.Config.SweepInterval), s.runHousekeeping); err != nil {
		return fmt.Errorf("register housekeeping: %w", err)
	}
	if s.Config.OrphanSweepEnabled && s.Media != nil {
		if _, err := s.cron.AddFunc(every(s.Config.OrphanSweepInterval), s.runOrphanSweep); err != nil {
			return fmt.Errorf("register orphan sweep: %w", err)
		}
	}
	s.cron.Start()
	log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
	return nil
}

// Stop waits for running jobs to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runHousekeeping() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	swept := s.SweepWindows()
	purged, err := s.PurgeIdempotency(ctx)
	if err != nil {
		log.Error().Err(err).Msg("idempotency purge failed")
		return
	}
	log.Debug().Int("window_keys", swept).Int64("idempotency_rows", purged).Msg("housekeeping done")
}

func (s *Scheduler) runOrphanSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.SweepOrphans(ctx)
	if err != nil {
		log.Error().Err(err).Int("deleted", n).Msg("orphan sweep failed")
		return
	}
	if n > 0 {
		log.Info().Int("deleted", n).Msg("orphan sweep done")
	}
}

// SweepWindows prunes every registered limiter and returns the keys removed.
func (s *Scheduler) SweepWindows() int {
	n := 0
	for _, w := range s.Windows {
		n += w.Sweep()
	}
	return n
}

// PurgeIdempotency deletes expired idempotency records.
func (s *Scheduler) PurgeIdempotency(ctx context.Context) (int64, error) {
	return repo.PurgeIdempotency(ctx, s.DB, s.Now().UTC())
}

// SweepOrphans deletes uploads older than the grace period that no
// submission references. Each candidate from the batch check is checked
// again just before its delete, so a redemption that committed while the
// batch was being processed keeps its object.
func (s *Scheduler) SweepOrphans(ctx context.Context) (int, error) {
	if s.Media == nil {
		return 0, nil
	}
	objs, err := s.Media.ListOlderThan(ctx, s.Now().Add(-s.Config.OrphanGrace))
	if err != nil {
		return 0, err
	}

	deleted := 0
	for start := 0; start < len(objs); start += orphanBatch {
		end := min(start+orphanBatch, len(objs))
		batch := objs[start:end]

		urls := make([]string, len(batch))
		for i, o := range batch {
			urls[i] = s.Media.PublicURL(o.Key)
		}
		refs, err := repo.ReferencedMedia(ctx, s.DB, urls)
		if err != nil {
			return deleted, err
		}
		for i, o := range batch {
			if refs[urls[i]] {
				continue
			}
			again, err := repo.ReferencedMedia(ctx, s.DB, urls[i:i+1])
			if err != nil {
				return deleted, err
			}
			if again[urls[i]] {
				continue
			}
			if err := s.Media.Delete(ctx, o.Key); err != nil {
				return deleted, err
			}
			deleted++
			observability.SweptObjects.Inc()
		}
	}
	return deleted, nil
}

package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/hollis/braid/internal/observability"
)

const (
	DefaultRetentionSchedule = "0 * * * *"
	DefaultArchiveAfter      = 72 * time.Hour
	DefaultPurgeAfter        = 7 * 24 * time.Hour

	archiveDirName = "archive"
)

// RetentionOptions configures the transcript retention sweeper.
type RetentionOptions struct {
	// Schedule is a five-field cron expression. Empty means hourly.
	Schedule string
	// ArchiveAfter is how long a transcript may sit idle before it is moved
	// into the archive directory. Zero means DefaultArchiveAfter.
	ArchiveAfter time.Duration
	// PurgeAfter is how long an archived transcript is kept before deletion.
	// Zero means DefaultPurgeAfter.
	PurgeAfter time.Duration
}

// Retention moves idle transcripts into an archive/ subdirectory and later
// deletes them, on a cron schedule. Archived transcripts drop out of
// ListSessions and the session index but stay on disk until purged.
type Retention struct {
	manager  *Manager
	index    *Index
	schedule cron.Schedule
	expr     string

	archiveAfter time.Duration
	purgeAfter   time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
}

// NewRetention creates a retention sweeper over manager. index may be nil;
// when present, archived sessions are removed from it.
func NewRetention(manager *Manager, index *Index, opts RetentionOptions) (*Retention, error) {
	expr := opts.Schedule
	if expr == "" {
		expr = DefaultRetentionSchedule
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", expr, err)
	}

	archiveAfter := opts.ArchiveAfter
	if archiveAfter == 0 {
		archiveAfter = DefaultArchiveAfter
	}
	purgeAfter := opts.PurgeAfter
	if purgeAfter == 0 {
		purgeAfter = DefaultPurgeAfter
	}

	return &Retention{
		manager:      manager,
		index:        index,
		schedule:     schedule,
		expr:         expr,
		archiveAfter: archiveAfter,
		purgeAfter:   purgeAfter,
	}, nil
}

// Start launches the sweep loop.
func (r *Retention) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("retention sweeper is already running")
	}
	r.stopCh = make(chan struct{})
	r.running = true
	go r.run(r.stopCh)

	log.Info().
		Str("schedule", r.expr).
		Dur("archive_after", r.archiveAfter).
		Dur("purge_after", r.purgeAfter).
		Msg("Retention sweeper started")
	return nil
}

// Stop halts the sweep loop.
func (r *Retention) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return fmt.Errorf("retention sweeper is not running")
	}
	close(r.stopCh)
	r.running = false

	log.Info().Msg("Retention sweeper stopped")
	return nil
}

// IsRunning reports whether the sweep loop is active.
func (r *Retention) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Retention) run(stopCh chan struct{}) {
	for {
		next := r.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-timer.C:
			if err := r.SweepNow(context.Background()); err != nil {
				log.Error().Err(err).Msg("Retention sweep failed")
			}
		case <-stopCh:
			timer.Stop()
			return
		}
	}
}

// SweepNow runs one archive-and-purge pass immediately.
func (r *Retention) SweepNow(ctx context.Context) error {
	archived, err := r.archiveIdle(ctx)
	if err != nil {
		return err
	}

	purged, err := r.purgeExpired()
	if err != nil {
		return err
	}

	if archived > 0 || purged > 0 {
		log.Info().
			Int("archived", archived).
			Int("purged", purged).
			Msg("Retention sweep complete")
		observability.RecordRetentionAudit(ctx, archived, purged)
	}
	return nil
}

func (r *Retention) archiveIdle(ctx context.Context) (int, error) {
	keys, err := r.manager.ListSessions()
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := time.Now()
	archived := 0
	for _, key := range keys {
		info, err := r.manager.Stat(key)
		if err != nil {
			log.Warn().Str("session_key", key).Err(err).Msg("Failed to stat transcript")
			continue
		}

		if now.Sub(info.LastModified) < r.archiveAfter {
			continue
		}

		if err := r.ArchiveNow(ctx, key); err != nil {
			log.Error().Str("session_key", key).Err(err).Msg("Failed to archive transcript")
			continue
		}
		archived++
	}
	return archived, nil
}

// ArchiveNow moves one session transcript into the archive directory.
func (r *Retention) ArchiveNow(ctx context.Context, sessionKey string) error {
	info, err := r.manager.Stat(sessionKey)
	if err != nil {
		return fmt.Errorf("failed to stat transcript: %w", err)
	}

	archiveDir := filepath.Join(r.manager.Dir(), archiveDirName)
	if err := os.MkdirAll(archiveDir, 0700); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	dest := filepath.Join(archiveDir, filepath.Base(info.Path))
	if err := os.Rename(info.Path, dest); err != nil {
		return fmt.Errorf("failed to move transcript to archive: %w", err)
	}

	r.manager.Evict(sessionKey)
	if r.index != nil {
		if err := r.index.Delete(ctx, sessionKey); err != nil {
			log.Warn().Str("session_key", sessionKey).Err(err).Msg("Failed to drop archived session from index")
		}
	}

	log.Info().
		Str("session_key", sessionKey).
		Str("archive_path", dest).
		Msg("Transcript archived")
	return nil
}

func (r *Retention) purgeExpired() (int, error) {
	archiveDir := filepath.Join(r.manager.Dir(), archiveDirName)
	dirEntries, err := os.ReadDir(archiveDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read archive directory: %w", err)
	}

	now := time.Now()
	purged := 0
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), transcriptExt) {
			continue
		}

		fi, err := de.Info()
		if err != nil {
			continue
		}

		age := now.Sub(fi.ModTime())
		if age < r.purgeAfter {
			continue
		}

		path := filepath.Join(archiveDir, de.Name())
		if err := os.Remove(path); err != nil {
			log.Error().Str("path", path).Err(err).Msg("Failed to purge archived transcript")
			continue
		}
		purged++

		log.Debug().Str("path", path).Dur("age", age).Msg("Archived transcript purged")
	}
	return purged, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm"
)

// This is our interface, allowing us to enable proper testing
type BackgroundProcessor interface {
	sweep(now time.Time) (int, error)
}

// Start our background tasks in a thread
func StartBackgroundTasks(ctx context.Context, processor BackgroundProcessor, pollingInterval time.Duration) {
	go func() {
		minBackoffDuration := 10 * time.Second
		maxBackoffDuration := time.Hour

		backoffDuration := minBackoffDuration

		for {
			removed, err := processor.sweep(time.Now())
			wait := pollingInterval
			if err != nil {
				log.Errorf("Error in background cleanup: %v", err)
				wait = backoffDuration

				// Exponential backoff logic
				backoffDuration *= 2
				if backoffDuration > maxBackoffDuration {
					log.Warnf("Max backoff duration reached. Using %v", maxBackoffDuration)
					backoffDuration = maxBackoffDuration
				}
			} else {
				// Reset backoff when processing succeeds
				backoffDuration = minBackoffDuration
				if removed > 0 {
					log.Infof("Background cleanup removed %d expired items", removed)
				}
			}

			select {
			case <-ctx.Done():
				log.Infoln("Background tasks shutting down")
				return
			case <-time.After(wait):
			}
		}
	}()
}

// artifactSweeper removes uploads, previews, diagnostics and session state
// older than maxAge.
type artifactSweeper struct {
	dirs     []string
	maxAge   time.Duration
	db       *gorm.DB
	jobs     *JobStore
	progress *ProgressStore
}

func (s *artifactSweeper) sweep(now time.Time) (int, error) {
	cutoff := now.Add(-s.maxAge)
	removed := 0
	var errs []error

	for _, dir := range s.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			errs = append(errs, fmt.Errorf("error listing %s: %w", dir, err))
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				errs = append(errs, fmt.Errorf("error removing %s: %w", path, err))
				continue
			}
			log.WithField("file", path).Debug("Removed expired artifact")
			removed++
		}
	}

	if s.db != nil {
		count, err := DeleteSessionsBefore(s.db, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("error deleting expired sessions: %w", err))
		}
		removed += int(count)
	}
	if s.jobs != nil {
		removed += s.jobs.pruneBefore(cutoff)
	}
	if s.progress != nil {
		removed += s.progress.pruneBefore(cutoff)
	}

	if len(errs) > 0 {
		return removed, errors.Join(errs...)
	}
	return removed, nil
}

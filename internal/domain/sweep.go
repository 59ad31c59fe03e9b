package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/bulletin/internal/observability"
)

// SweepResult counts the rows acted on by one sweep.
type SweepResult struct {
	Published int
	Deleted   int
	Archived  int
	Failed    int
}

// Sweep publishes due scheduled activities, runs auto-deletion and then
// auto-archival. Each pass re-lists its candidates and writes conditionally on
// the version it read, so overlapping sweeps never act on a row twice. A
// failing row is logged and skipped; the returned error only reports passes
// whose candidate query failed.
func (s *Service) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	start := time.Now()
	now = now.UTC()

	var result SweepResult
	var errs error

	if err := s.publishDue(ctx, now, &result); err != nil {
		errs = errors.Join(errs, fmt.Errorf("publish pass: %w", err))
	}
	if err := s.deleteDue(ctx, now, &result); err != nil {
		errs = errors.Join(errs, fmt.Errorf("auto-delete pass: %w", err))
	}
	if err := s.archiveDue(ctx, now, &result); err != nil {
		errs = errors.Join(errs, fmt.Errorf("auto-archive pass: %w", err))
	}

	observability.RecordSweep(result.Published, result.Deleted, result.Archived, result.Failed, time.Since(start), now)
	return result, errs
}

func (s *Service) publishDue(ctx context.Context, now time.Time, result *SweepResult) error {
	due, err := s.store.ListActivities(ctx, ActivityFilter{
		Statuses:          []Status{StatusScheduled},
		PublishAtOrBefore: &now,
	})
	if err != nil {
		return err
	}
	for _, activity := range due {
		ok, err := s.store.SetStatus(ctx, activity.ID, activity.Version, StatusPublished, now)
		if err != nil {
			result.Failed++
			s.logger.Printf("sweep publish failed (activity=%s): %v", activity.ID, err)
			continue
		}
		if !ok {
			continue
		}
		result.Published++
		s.notifyPublished(ctx, activity)
		s.broadcast(ctx, activity.ID, topicsFor(activity.EventType)...)
	}
	return nil
}

func (s *Service) deleteDue(ctx context.Context, now time.Time, result *SweepResult) error {
	due, err := s.store.ListActivities(ctx, ActivityFilter{AutoDeleteAtOrBefore: &now})
	if err != nil {
		return err
	}
	for _, activity := range due {
		deleted, err := s.cascadeDelete(ctx, activity, activity.Version)
		if err != nil {
			result.Failed++
			s.logger.Printf("sweep auto-delete failed (activity=%s): %v", activity.ID, err)
			continue
		}
		if deleted {
			result.Deleted++
		}
	}
	return nil
}

func (s *Service) archiveDue(ctx context.Context, now time.Time, result *SweepResult) error {
	due, err := s.store.ListActivities(ctx, ActivityFilter{
		Statuses:              []Status{StatusScheduled, StatusPublished},
		AutoArchiveAtOrBefore: &now,
	})
	if err != nil {
		return err
	}
	for _, activity := range due {
		ok, err := s.store.SetStatus(ctx, activity.ID, activity.Version, StatusArchived, now)
		if err != nil {
			result.Failed++
			s.logger.Printf("sweep auto-archive failed (activity=%s): %v", activity.ID, err)
			continue
		}
		if ok {
			result.Archived++
			s.broadcast(ctx, activity.ID, topicsFor(activity.EventType)...)
		}
	}
	return nil
}

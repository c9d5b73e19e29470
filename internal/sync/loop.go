package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hale-app/hale/internal/health"
	"github.com/hale-app/hale/internal/provider"
)

var (
	errQueryFailed  = errors.New("provider query failed")
	errUploadFailed = errors.New("upload failed")
)

// classifyError maps a loop error onto the sync error taxonomy
func classifyError(err error) ErrorType {
	switch {
	case errors.Is(err, provider.ErrUnavailable):
		return ErrorTypeUnavailable
	case errors.Is(err, errUploadFailed):
		return ErrorTypeUpload
	case errors.Is(err, errQueryFailed):
		return ErrorTypeQuery
	default:
		return ErrorTypeUnknown
	}
}

// loopParams describes one batch sync run for a single record family
type loopParams struct {
	Type        health.RecordType
	Context     Context
	Start       *time.Time // nominal window start; nil means unbounded past
	End         time.Time
	BatchSize   int
	FullRefresh bool
	OnAdded     func(ctx context.Context, records []health.Record) error
	OnRemoved   func(ctx context.Context, ids []string) error
}

// runBatchLoop drains one record family's backlog in bounded batches.
//
// The anchor is only persisted after a batch has been handed off
// successfully, so an abnormal exit re-delivers at most the in-flight batch
// on the next run (at-least-once delivery to the upload path). The loop
// never retries internally; retry is the orchestrator's decision.
func (s *Service) runBatchLoop(ctx context.Context, p loopParams) (int, error) {
	typeKey := string(p.Type)

	effStart := s.windows.EffectiveStart(ctx, typeKey, p.Start)

	// Only an explicit window is widened back to the failure marker. A
	// nil-start request queries the unbounded past and already covers any
	// failed window; bounding it to the marker would exclude records with
	// nominal dates before the marker while the anchor advances past them.
	var queryStart *time.Time
	if p.Start != nil {
		start := effStart
		queryStart = &start
	}

	var anchor provider.Anchor
	if !p.FullRefresh {
		anchor = s.anchors.Get(ctx, p.Context, typeKey)
	}

	total := 0
	for {
		// Fail fast while the device is locked; looping would spin without
		// progress and the next unlock event resumes the sync anyway.
		if s.locks.IsLocked() {
			s.windows.RecordFailure(ctx, typeKey, effStart)
			return total, fmt.Errorf("%s: device locked: %w", typeKey, provider.ErrUnavailable)
		}

		if err := s.limiter.Wait(ctx); err != nil {
			s.windows.RecordFailure(ctx, typeKey, effStart)
			return total, fmt.Errorf("%w: %s: %w", errQueryFailed, typeKey, err)
		}

		res, err := s.provider.QueryBatch(ctx, provider.Query{
			TypeIDs:    p.Type.TypeIdentifiers(),
			Start:      queryStart,
			End:        p.End,
			Anchor:     anchor,
			Limit:      p.BatchSize,
			FullWindow: p.Type.FullWindow(),
		})
		if err != nil {
			s.windows.RecordFailure(ctx, typeKey, effStart)
			if errors.Is(err, provider.ErrUnavailable) {
				return total, fmt.Errorf("querying %s batch: %w", typeKey, err)
			}
			return total, fmt.Errorf("%w: querying %s batch: %w", errQueryFailed, typeKey, err)
		}

		// Deletion propagation is independent of the add path
		if len(res.RemovedIDs) > 0 && p.OnRemoved != nil {
			if err := p.OnRemoved(ctx, res.RemovedIDs); err != nil {
				s.windows.RecordFailure(ctx, typeKey, effStart)
				return total, fmt.Errorf("%w: propagating %s removals: %w", errUploadFailed, typeKey, err)
			}
		}

		if len(res.Added) == 0 {
			// Fully drained for this window
			s.anchors.Set(ctx, p.Context, typeKey, res.NewAnchor)
			s.windows.RecordSuccess(ctx, typeKey, effStart)
			return total, nil
		}

		if err := p.OnAdded(ctx, res.Added); err != nil {
			s.windows.RecordFailure(ctx, typeKey, effStart)
			return total, fmt.Errorf("%w: uploading %s batch: %w", errUploadFailed, typeKey, err)
		}

		s.anchors.Set(ctx, p.Context, typeKey, res.NewAnchor)
		anchor = res.NewAnchor
		total += len(res.Added)
	}
}

// syncRecordType runs the batch loop for one record family with the upload
// callbacks wired in, and records a sync log row for the attempt.
func (s *Service) syncRecordType(ctx context.Context, rt health.RecordType, syncContext Context, start *time.Time, end time.Time, batchSize int, fullRefresh bool) (int, error) {
	syncLog := NewSyncLog(syncContext, string(rt), start)

	count, err := s.runBatchLoop(ctx, loopParams{
		Type:        rt,
		Context:     syncContext,
		Start:       start,
		End:         end,
		BatchSize:   batchSize,
		FullRefresh: fullRefresh,
		OnAdded: func(ctx context.Context, records []health.Record) error {
			return s.uploadAdded(ctx, rt, syncContext, records)
		},
		OnRemoved: func(ctx context.Context, ids []string) error {
			return s.uploadRemoved(ctx, rt, syncContext, ids)
		},
	})

	if err != nil {
		syncLog.MarkFailed(classifyError(err), err.Error())
	} else {
		syncLog.MarkSuccessful(count)
	}
	if logErr := s.repo.CreateSyncLog(ctx, syncLog); logErr != nil {
		s.logger.Error("Failed to create sync log", "type", rt, "error", logErr)
	}

	return count, err
}

// syncClinicalRecords syncs clinical records over the unbounded
// past-to-now window. Clinical records can be amended long after their
// nominal date, so they are never restricted by monthsBack.
func (s *Service) syncClinicalRecords(ctx context.Context, syncContext Context, fullRefresh bool) (int, error) {
	return s.syncRecordType(ctx, health.RecordTypeClinical, syncContext, nil, s.now(), s.cfg.BatchSize, fullRefresh)
}

// uploadAdded serializes one batch and hands it to the upload client.
// Clinical records are decoded per record; a record that fails to decode is
// skipped, never the whole batch.
func (s *Service) uploadAdded(ctx context.Context, rt health.RecordType, syncContext Context, records []health.Record) error {
	payloads := make([]health.RecordPayload, 0, len(records))
	for _, r := range records {
		if rt == health.RecordTypeClinical {
			fields, err := s.decoder.Decode(r.Payload)
			if err != nil {
				s.logger.Warn("Skipping undecodable clinical record", "id", r.ID, "error", err)
				continue
			}
			p := health.NewRecordPayload(r)
			if p.Metadata == nil {
				p.Metadata = make(map[string]any)
			}
			p.Metadata["resource_type"] = fields.ResourceType
			if fields.DisplayName != "" {
				p.Metadata["display_name"] = fields.DisplayName
			}
			payloads = append(payloads, p)
			continue
		}
		payloads = append(payloads, health.NewRecordPayload(r))
	}

	if len(payloads) == 0 {
		return nil
	}

	return s.uploader.SendBatch(ctx, &health.BatchPayload{
		RecordType: rt,
		Context:    string(syncContext),
		Added:      payloads,
	})
}

// uploadRemoved propagates record deletions to the server
func (s *Service) uploadRemoved(ctx context.Context, rt health.RecordType, syncContext Context, ids []string) error {
	return s.uploader.SendBatch(ctx, &health.BatchPayload{
		RecordType: rt,
		Context:    string(syncContext),
		RemovedIDs: ids,
	})
}

package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hale-app/hale/internal/health"
	"github.com/hale-app/hale/internal/provider"
)

// summaryTypeKey keys the daily summary's failure window. Summaries are
// recomputed over a range rather than accumulated, so no anchor is
// persisted for them.
const summaryTypeKey = "dailySummary"

// defaultSummaryDays is the trailing range recomputed when no explicit
// window is requested.
const defaultSummaryDays = 7

// syncDailySummary aggregates step counts per civil day over the requested
// window (or the trailing week) and uploads the result. The whole range is
// recomputed each time: days are idempotent on the server, and recomputing
// sidesteps partial-day accounting entirely.
func (s *Service) syncDailySummary(ctx context.Context, requested *time.Time) error {
	end := s.now()
	req := requested
	if req == nil {
		t := end.AddDate(0, 0, -defaultSummaryDays)
		req = &t
	}
	start := s.windows.EffectiveStart(ctx, summaryTypeKey, req)

	totals := make(map[string]float64)
	var anchor provider.Anchor
	for {
		if s.locks.IsLocked() {
			s.windows.RecordFailure(ctx, summaryTypeKey, start)
			return fmt.Errorf("daily summary: device locked: %w", provider.ErrUnavailable)
		}
		if err := s.limiter.Wait(ctx); err != nil {
			s.windows.RecordFailure(ctx, summaryTypeKey, start)
			return fmt.Errorf("%w: daily summary: %w", errQueryFailed, err)
		}

		res, err := s.provider.QueryBatch(ctx, provider.Query{
			TypeIDs: []string{health.TypeIDStepCount},
			Start:   &start,
			End:     end,
			Anchor:  anchor,
			Limit:   s.cfg.BatchSize,
		})
		if err != nil {
			s.windows.RecordFailure(ctx, summaryTypeKey, start)
			if errors.Is(err, provider.ErrUnavailable) {
				return fmt.Errorf("querying step counts: %w", err)
			}
			return fmt.Errorf("%w: querying step counts: %w", errQueryFailed, err)
		}
		if len(res.Added) == 0 {
			break
		}
		for _, r := range res.Added {
			day := r.Start.UTC().Format(health.DayFormat)
			totals[day] += r.Value
		}
		anchor = res.NewAnchor
	}

	days := make([]health.DailySummary, 0, len(totals))
	for day, steps := range totals {
		days = append(days, health.DailySummary{Date: day, Steps: steps})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })

	if err := s.uploader.SendSummary(ctx, &health.SummaryPayload{Days: days}); err != nil {
		s.windows.RecordFailure(ctx, summaryTypeKey, start)
		return fmt.Errorf("%w: uploading daily summary: %w", errUploadFailed, err)
	}

	s.windows.RecordSuccess(ctx, summaryTypeKey, start)
	s.logger.Debug("Daily summary uploaded", "days", len(days), "window_start", start)
	return nil
}

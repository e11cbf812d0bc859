package crosscheck

import (
	"context"
	"errors"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/regwatch/internal/company"
	"github.com/sells-group/regwatch/internal/store"
)

const defaultConcurrency = 4

// BatchReport summarizes a Batch run.
type BatchReport struct {
	Checked   int            `json:"checked"`
	Skipped   int            `json:"skipped"`
	Fallbacks int            `json:"fallbacks"`
	ByStatus  map[string]int `json:"by_status"`
}

// Batch cross-checks records with at most concurrency calls in flight and
// stores each verdict on its record. Duplicate ids are checked once, so every
// record is written by a single call. Records without comparable data are
// skipped. A store failure aborts the batch.
func Batch(ctx context.Context, st store.Store, sc Scorer, records []*company.Record, concurrency int) (BatchReport, error) {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	log := zap.L().With(zap.String("component", "crosscheck"), zap.Int("records", len(records)))

	report := BatchReport{ByStatus: make(map[string]int)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec == nil || seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true

		req, err := RequestFor(rec)
		if errors.Is(err, ErrInsufficientData) {
			report.Skipped++
			continue
		}

		g.Go(func() error {
			result := sc.CrossCheck(gctx, req)
			if gctx.Err() != nil {
				return gctx.Err()
			}
			_, err := st.UpdateRecordByID(gctx, req.RecordID, func(r *company.Record) error {
				r.CrossCheck = &result
				return nil
			})
			if err != nil {
				return eris.Wrapf(err, "crosscheck: store verdict for %s", req.RecordID)
			}

			mu.Lock()
			report.Checked++
			report.ByStatus[result.Status]++
			if result.Error != "" {
				report.Fallbacks++
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}
	log.Info("cross-check batch complete",
		zap.Int("checked", report.Checked),
		zap.Int("skipped", report.Skipped),
		zap.Int("fallbacks", report.Fallbacks),
	)
	return report, nil
}

// Pending filters records that have no verdict yet or only a fallback one.
func Pending(records []*company.Record) []*company.Record {
	var out []*company.Record
	for _, r := range records {
		if r.CrossCheck == nil || r.CrossCheck.Error != "" {
			out = append(out, r)
		}
	}
	return out
}

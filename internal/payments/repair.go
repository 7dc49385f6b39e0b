package payments

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"tourbook/internal/types"
)

const (
	defaultSweepLimit       = 100
	defaultSweepConcurrency = 4
)

// SweepReport summarizes one Sweep pass.
type SweepReport struct {
	Scanned          int `json:"scanned"`
	Repaired         int `json:"repaired"`
	AlreadyFulfilled int `json:"already_fulfilled"`
	Failed           int `json:"failed"`
}

// Repairer re-runs fulfillment for records that are already paid. It never
// changes payment status and never consults the provider.
type Repairer struct {
	payments    PaymentStore
	fulfiller   Fulfiller
	logger      *slog.Logger
	concurrency int
}

// NewRepairer creates a Repairer. concurrency <= 0 uses a default.
func NewRepairer(store PaymentStore, fulfiller Fulfiller, logger *slog.Logger, concurrency int) *Repairer {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = defaultSweepConcurrency
	}
	return &Repairer{payments: store, fulfiller: fulfiller, logger: logger, concurrency: concurrency}
}

// RepairOrder fulfills the paid record for orderID. A record in any other
// status is a ConflictPaymentState.
func (r *Repairer) RepairOrder(ctx context.Context, orderID string) (*types.FulfillmentResult, error) {
	rec, err := r.payments.GetByProviderOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if rec.Status != types.PaymentStatusPaid {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeConflictPaymentState,
			"only paid records can be repaired", nil,
			map[string]any{"order_id": orderID, "status": string(rec.Status)})
	}

	fr, err := r.fulfiller.Fulfill(ctx, rec)
	if err != nil {
		r.logger.ErrorContext(ctx, "fulfillment repair failed",
			"order_id", orderID,
			"record_id", rec.ID,
			"error", err,
		)
		return nil, err
	}
	r.logger.InfoContext(ctx, "fulfillment repaired",
		"order_id", orderID,
		"record_id", rec.ID,
		"kind", fr.Kind,
		"created", fr.Created,
	)
	return fr, nil
}

// Sweep re-dispatches up to limit paid records that have no fulfillment.
// Individual failures are counted, not returned; only a listing failure
// aborts the pass.
func (r *Repairer) Sweep(ctx context.Context, limit int) (SweepReport, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	recs, err := r.payments.ListPaidUnfulfilled(ctx, limit)
	if err != nil {
		return SweepReport{}, err
	}

	var repaired, already, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, rec := range recs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fr, err := r.fulfiller.Fulfill(gctx, rec)
			switch {
			case err != nil:
				failed.Add(1)
				r.logger.WarnContext(gctx, "sweep fulfillment failed",
					"order_id", rec.ProviderOrderID,
					"record_id", rec.ID,
					"error", err,
				)
			case fr.Created:
				repaired.Add(1)
			default:
				already.Add(1)
			}
			return nil
		})
	}
	werr := g.Wait()

	report := SweepReport{
		Scanned:          len(recs),
		Repaired:         int(repaired.Load()),
		AlreadyFulfilled: int(already.Load()),
		Failed:           int(failed.Load()),
	}
	r.logger.InfoContext(ctx, "fulfillment sweep finished",
		"scanned", report.Scanned,
		"repaired", report.Repaired,
		"already_fulfilled", report.AlreadyFulfilled,
		"failed", report.Failed,
	)
	return report, werr
}

package payments

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"tourbook/internal/external"
	"tourbook/internal/types"
)

const (
	defaultQueryTimeout   = 5 * time.Second
	defaultArchiveTimeout = 3 * time.Second
)

// Engine reconciles provider confirmations against PaymentRecords. Checkout
// verification and webhooks are thin adapters that produce a
// ConfirmationEvent for Apply; there is no other path that changes a
// record's status.
type Engine struct {
	payments  PaymentStore
	fulfiller Fulfiller
	gateways  Gateways
	reporter  FailureReporter
	archiver  WebhookArchiver
	metrics   MetricsRecorder
	logger    *slog.Logger
	now       func() time.Time

	queryTimeout   time.Duration
	archiveTimeout time.Duration
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithFailureReporter routes fulfillment failures to the repair queue.
func WithFailureReporter(r FailureReporter) EngineOption {
	return func(e *Engine) { e.reporter = r }
}

// WithArchiver stores signature-valid webhook bodies.
func WithArchiver(a WebhookArchiver) EngineOption {
	return func(e *Engine) { e.archiver = a }
}

// WithMetrics installs an outcome recorder.
func WithMetrics(m MetricsRecorder) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithQueryTimeout bounds the store calls of one confirmation.
func WithQueryTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.queryTimeout = d
		}
	}
}

// NewEngine creates an Engine.
func NewEngine(store PaymentStore, fulfiller Fulfiller, gateways Gateways, opts ...EngineOption) *Engine {
	e := &Engine{
		payments:       store,
		fulfiller:      fulfiller,
		gateways:       gateways,
		reporter:       noopReporter{},
		archiver:       noopArchiver{},
		metrics:        noopMetrics{},
		logger:         slog.Default(),
		now:            time.Now,
		queryTimeout:   defaultQueryTimeout,
		archiveTimeout: defaultArchiveTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// VerifyCheckout handles the client's post-checkout call. provider may be
// empty, selecting the default gateway. The signature is checked before any
// lookup; a mismatch is InvalidSignature and changes nothing. A valid
// signature for an order with no local record is a soft success with
// Outcome untracked.
func (e *Engine) VerifyCheckout(ctx context.Context, provider types.ProviderName, orderID, paymentID, signature string) (*types.ReconcileResult, error) {
	gw, err := e.gatewayFor(provider)
	if err != nil {
		return nil, err
	}
	if !gw.VerifyCheckout(orderID, paymentID, signature) {
		e.logger.WarnContext(ctx, "checkout signature mismatch",
			"provider", gw.Name(),
			"order_id", orderID,
			"payment_id", paymentID,
		)
		e.metrics.RecordReconcile(ctx, gw.Name(), types.ChannelVerify, types.OutcomeRejected)
		return nil, types.ErrInvalidSignature()
	}

	return e.Apply(ctx, gw.Name(), types.ConfirmationEvent{
		OrderID:   orderID,
		PaymentID: paymentID,
		Signature: signature,
		Channel:   types.ChannelVerify,
	})
}

// HandleWebhook verifies and applies a provider notification. body must be
// the raw request bytes. It returns InvalidSignature on mismatch, which the
// transport answers with a non-2xx so the provider redelivers. Unknown event
// types and undecodable bodies are acknowledged with Outcome ignored.
func (e *Engine) HandleWebhook(ctx context.Context, provider types.ProviderName, body []byte, header http.Header) (*types.ReconcileResult, error) {
	gw, err := e.gateways.Gateway(provider)
	if err != nil {
		return nil, err
	}

	ev, err := gw.ParseWebhook(body, header)
	if err != nil {
		if types.IsCode(err, types.ErrCodeValidationInvalidBody) {
			e.logger.WarnContext(ctx, "acknowledging undecodable webhook",
				"provider", provider,
				"error", err,
			)
			e.archive(ctx, provider, "", body)
			e.metrics.RecordReconcile(ctx, provider, types.ChannelWebhook, types.OutcomeIgnored)
			return &types.ReconcileResult{Outcome: types.OutcomeIgnored}, nil
		}
		e.logger.WarnContext(ctx, "webhook signature rejected",
			"provider", provider,
			"error", err,
		)
		e.metrics.RecordReconcile(ctx, provider, types.ChannelWebhook, types.OutcomeRejected)
		return nil, err
	}

	e.archive(ctx, provider, ev.ID, body)

	if ev.Confirmation == nil {
		e.logger.InfoContext(ctx, "webhook event ignored",
			"provider", provider,
			"event_id", ev.ID,
			"event_type", ev.Type,
		)
		e.metrics.RecordReconcile(ctx, provider, types.ChannelWebhook, types.OutcomeIgnored)
		return &types.ReconcileResult{Outcome: types.OutcomeIgnored}, nil
	}

	return e.Apply(ctx, provider, *ev.Confirmation)
}

// Apply is the transition function shared by every channel. The caller has
// already authenticated ev.
//
//   - created: conditionally moved to paid (or failed) and, when paid,
//     dispatched to the Fulfiller.
//   - already paid: dispatched again; fulfillment is idempotent, so this
//     repairs an entitlement lost after the transition committed.
//   - already failed or missing: no change.
//
// Storage failures are returned. Fulfillment failures are not: the record
// stays paid and the failure is logged, reported and set on the result.
func (e *Engine) Apply(ctx context.Context, provider types.ProviderName, ev types.ConfirmationEvent) (*types.ReconcileResult, error) {
	// A client disconnect must not split the transition from its fulfillment.
	ctx = context.WithoutCancel(ctx)
	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	target := types.PaymentStatusPaid
	if ev.Failed {
		target = types.PaymentStatusFailed
	}

	log := e.logger.With(
		"provider", provider,
		"order_id", ev.OrderID,
		"payment_id", ev.PaymentID,
		"channel", ev.Channel,
	)

	// Payment id, signature and channel belong to a successful reconciliation.
	paymentID, signature, channel := ev.PaymentID, ev.Signature, ev.Channel
	if ev.Failed {
		paymentID, signature, channel = "", "", ""
	}
	rec, won, err := e.payments.TransitionFromCreated(ctx, ev.OrderID, target, paymentID, signature, channel)
	if err != nil {
		log.ErrorContext(ctx, "payment transition failed", "error", err)
		return nil, err
	}

	res := &types.ReconcileResult{Outcome: types.OutcomeTransitioned, Record: rec}
	if !won {
		rec, err = e.payments.GetByProviderOrderID(ctx, ev.OrderID)
		if err != nil {
			if types.IsCode(err, types.ErrCodeNotFoundPayment) {
				log.WarnContext(ctx, "confirmation for untracked order")
				e.metrics.RecordReconcile(ctx, provider, ev.Channel, types.OutcomeUntracked)
				return &types.ReconcileResult{Outcome: types.OutcomeUntracked}, nil
			}
			log.ErrorContext(ctx, "payment lookup failed", "error", err)
			return nil, err
		}
		res.Record = rec

		switch rec.Status {
		case types.PaymentStatusPaid:
			res.Outcome = types.OutcomeAlreadyPaid
		case types.PaymentStatusFailed:
			res.Outcome = types.OutcomeAlreadyFailed
		default:
			// The record appeared between the conditional update and the read.
			return nil, types.NewAppErrorWithDetails(types.ErrCodeConflictPaymentState,
				"payment record changed during reconciliation", nil,
				map[string]any{"order_id": ev.OrderID})
		}
	}

	switch {
	case res.Outcome == types.OutcomeAlreadyFailed && !ev.Failed:
		log.ErrorContext(ctx, "payment confirmed for a failed record")
	case res.Outcome == types.OutcomeAlreadyPaid && ev.Failed:
		log.WarnContext(ctx, "failure reported for a paid record")
	case won:
		log.InfoContext(ctx, "payment reconciled", "status", rec.Status)
	}
	e.metrics.RecordReconcile(ctx, provider, ev.Channel, res.Outcome)

	if rec.Status == types.PaymentStatusPaid {
		e.dispatch(ctx, log, rec, res)
	}
	return res, nil
}

func (e *Engine) dispatch(ctx context.Context, log *slog.Logger, rec *types.PaymentRecord, res *types.ReconcileResult) {
	fr, err := e.fulfiller.Fulfill(ctx, rec)
	if err == nil {
		res.Fulfillment = fr
		return
	}

	res.FulfillmentErr = err
	log.ErrorContext(ctx, "fulfillment failed; payment stays paid",
		"record_id", rec.ID,
		"subject_kind", rec.Subject.Kind,
		"subject_id", rec.Subject.ID,
		"error", err,
	)
	e.metrics.RecordFulfillmentFailure(ctx, rec.Subject.Kind)

	reason := err.Error()
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Err != nil {
		reason = appErr.Err.Error()
	}
	msg := types.FulfillmentFailedMessage{
		PaymentID:       rec.ID,
		ProviderOrderID: rec.ProviderOrderID,
		Provider:        rec.Provider,
		Reason:          reason,
		OccurredAt:      e.now().UTC(),
		RequestID:       types.GetRequestID(ctx),
	}
	if rerr := e.reporter.ReportFulfillmentFailure(ctx, msg); rerr != nil {
		log.ErrorContext(ctx, "failed to report fulfillment failure", "error", rerr)
	}
}

func (e *Engine) archive(ctx context.Context, provider types.ProviderName, eventID string, body []byte) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.archiveTimeout)
	defer cancel()
	if err := e.archiver.Archive(actx, provider, eventID, body); err != nil {
		e.logger.WarnContext(ctx, "webhook archive failed",
			"provider", provider,
			"event_id", eventID,
			"error", err,
		)
	}
}

func (e *Engine) gatewayFor(provider types.ProviderName) (external.PaymentGateway, error) {
	if provider == "" {
		return e.gateways.Default()
	}
	return e.gateways.Gateway(provider)
}

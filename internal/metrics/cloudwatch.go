// Package metrics publishes payment telemetry to AWS CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"tourbook/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Metric names.
const (
	MetricReconcile          = "PaymentReconcile"
	MetricFulfillmentFailure = "FulfillmentFailure"
	MetricAPIRequest         = "APIRequest"
	MetricAPILatency         = "APIRequestLatency"
)

// Dimension names.
const (
	DimProvider = "Provider"
	DimChannel  = "Channel"
	DimOutcome  = "Outcome"
	DimSubject  = "Subject"
	DimEndpoint = "Endpoint"
	DimStatus   = "Status"
)

// maxDatumsPerCall is the PutMetricData batch limit.
const maxDatumsPerCall = 1000

// maxBuffered drops the oldest datums once CloudWatch falls this far behind.
const maxBuffered = 20 * maxDatumsPerCall

// Recorder buffers datums and publishes them in batches. It implements
// payments.MetricsRecorder and core.MetricsCollector. Recording never blocks
// on CloudWatch; call Flush (Lambda) or Run (long-lived servers) to publish.
type Recorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending []cwtypes.MetricDatum
	dropped int
}

// NewRecorder creates a Recorder publishing into namespace.
func NewRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		client:    client,
		namespace: namespace,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordReconcile counts one confirmation outcome.
func (r *Recorder) RecordReconcile(_ context.Context, provider types.ProviderName, channel types.Channel, outcome types.Outcome) {
	r.add(cwtypes.MetricDatum{
		MetricName: aws.String(MetricReconcile),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			dim(DimProvider, string(provider)),
			dim(DimChannel, string(channel)),
			dim(DimOutcome, string(outcome)),
		},
	})
}

// RecordFulfillmentFailure counts a paid record whose entitlement was not granted.
func (r *Recorder) RecordFulfillmentFailure(_ context.Context, kind types.SubjectKind) {
	subject := string(kind)
	if subject == "" {
		subject = "none"
	}
	r.add(cwtypes.MetricDatum{
		MetricName: aws.String(MetricFulfillmentFailure),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{dim(DimSubject, subject)},
	})
}

// RecordRequest records count and latency of an API request. endpoint is
// the route pattern, never the raw path.
func (r *Recorder) RecordRequest(method, endpoint, status string, duration time.Duration) {
	route := method + " " + endpoint
	r.add(
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricAPIRequest),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{dim(DimEndpoint, route), dim(DimStatus, statusClass(status))},
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(MetricAPILatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: []cwtypes.Dimension{dim(DimEndpoint, route)},
		},
	)
}

func (r *Recorder) add(datums ...cwtypes.MetricDatum) {
	ts := aws.Time(r.now())
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range datums {
		d.Timestamp = ts
		r.pending = append(r.pending, d)
	}
	if over := len(r.pending) - maxBuffered; over > 0 {
		r.pending = r.pending[over:]
		r.dropped += over
	}
}

// Flush publishes everything buffered so far. Failed batches are logged and
// discarded.
func (r *Recorder) Flush(ctx context.Context) {
	r.mu.Lock()
	batch := r.pending
	dropped := r.dropped
	r.pending, r.dropped = nil, 0
	r.mu.Unlock()

	if dropped > 0 {
		r.logger.WarnContext(ctx, "metric buffer overflowed", "dropped", dropped)
	}

	for start := 0; start < len(batch); start += maxDatumsPerCall {
		end := min(start+maxDatumsPerCall, len(batch))
		_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(r.namespace),
			MetricData: batch[start:end],
		})
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to publish metrics",
				"error", err.Error(),
				"datums", end-start,
			)
		}
	}
}

// Run flushes every interval until ctx is done, then flushes once more.
func (r *Recorder) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Flush(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			r.Flush(flushCtx)
			cancel()
			return
		}
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// statusClass collapses status codes to 2xx/4xx/5xx to bound dimension cardinality.
func statusClass(status string) string {
	code, err := strconv.Atoi(status)
	if err != nil || code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}

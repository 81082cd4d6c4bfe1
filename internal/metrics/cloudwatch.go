// Package metrics emits operational telemetry to CloudWatch. Emission is
// best-effort: a metrics failure is logged and never propagates into the
// request path.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric and dimension names.
const (
	MetricWebhookEvent     = "WebhookEvent"
	MetricWebhookLatency   = "WebhookLatency"
	MetricReportSubmission = "ReportSubmission"

	DimEventType = "EventType"
	DimResult    = "Result"
	DimSource    = "DebitSource"
)

// CloudWatchClient abstracts PutMetricData for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Recorder publishes Reportly metrics to a CloudWatch namespace.
type Recorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewRecorder creates a Recorder publishing to the given namespace.
func NewRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{client: client, namespace: namespace, logger: logger}
}

// RecordWebhookEvent counts one processed webhook delivery with its type and
// outcome, and records processing latency.
func (r *Recorder) RecordWebhookEvent(ctx context.Context, eventType, result string, duration time.Duration) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(r.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricWebhookEvent),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(DimEventType), Value: aws.String(eventType)},
					{Name: aws.String(DimResult), Value: aws.String(result)},
				},
			},
			{
				MetricName: aws.String(MetricWebhookLatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(DimEventType), Value: aws.String(eventType)},
				},
			},
		},
	}

	if _, err := r.client.PutMetricData(ctx, input); err != nil {
		r.logger.WarnContext(ctx, "failed to record webhook metric",
			"event_type", eventType,
			"result", result,
			"error", err,
		)
	}
}

// RecordReportSubmission counts one report submission outcome with the
// funding source that covered it ("none", "subscription", "credit_lots",
// or "denied").
func (r *Recorder) RecordReportSubmission(ctx context.Context, source string) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(r.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(MetricReportSubmission),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(DimSource), Value: aws.String(source)},
				},
			},
		},
	}

	if _, err := r.client.PutMetricData(ctx, input); err != nil {
		r.logger.WarnContext(ctx, "failed to record submission metric",
			"source", source,
			"error", err,
		)
	}
}

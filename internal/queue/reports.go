// Package queue provides the SQS producer that hands accepted report jobs to
// the external analysis engine.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"reportly/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// ReportDispatcher serializes a ReportJob and sends it to the analysis
// engine's queue. The engine owns everything past this point: fetching the
// target site, running the analysis, rendering, and delivering the result.
type ReportDispatcher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewReportDispatcher creates a ReportDispatcher for the given queue URL.
func NewReportDispatcher(client SQSSender, queueURL string, logger *slog.Logger) *ReportDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportDispatcher{client: client, queueURL: queueURL, logger: logger}
}

// Dispatch enqueues one report job. A failure here is surfaced to the caller
// so the already-performed credit debit can be refunded.
func (d *ReportDispatcher) Dispatch(ctx context.Context, job types.ReportJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal report job", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"report_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(job.ReportType)),
			},
		},
	}

	if _, err := d.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue, "failed to enqueue report job", err)
	}

	d.logger.InfoContext(ctx, "report job dispatched",
		"job_id", job.JobID,
		"account_id", job.AccountID,
		"report_type", string(job.ReportType),
	)

	return nil
}

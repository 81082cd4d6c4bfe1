package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"reportly/internal/types"
)

// --- Mock SQS Client ---

// mockSQSSender captures SendMessage calls for test assertions.
type mockSQSSender struct {
	calls []*sqs.SendMessageInput
	err   error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

// --- Test Helpers ---

const testQueueURL = "https://sqs.us-east-1.amazonaws.com/123456789/report-jobs"

func testJob() types.ReportJob {
	return types.ReportJob{
		JobID:              "job_1",
		AccountID:          "acct_1",
		ReportType:         types.ReportSEOAudit,
		TargetWebsite:      "https://example.com",
		CompetitorWebsites: []string{"https://rival-a.com", "https://rival-b.com"},
		FocusKeyword:       "artisanal coffee",
		RequestedAt:        time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

// --- Tests ---

func TestDispatch_SendsToConfiguredQueue(t *testing.T) {
	mock := &mockSQSSender{}
	d := NewReportDispatcher(mock, testQueueURL, nil)

	if err := d.Dispatch(context.Background(), testJob()); err != nil {
		t.Fatalf("Dispatch returned unexpected error: %v", err)
	}

	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 SQS call, got %d", len(mock.calls))
	}
	if *mock.calls[0].QueueUrl != testQueueURL {
		t.Errorf("expected queue URL %q, got %q", testQueueURL, *mock.calls[0].QueueUrl)
	}
}

func TestDispatch_PreservesFullPayload(t *testing.T) {
	mock := &mockSQSSender{}
	d := NewReportDispatcher(mock, testQueueURL, nil)

	original := testJob()
	if err := d.Dispatch(context.Background(), original); err != nil {
		t.Fatalf("Dispatch returned unexpected error: %v", err)
	}

	var decoded types.ReportJob
	if err := json.Unmarshal([]byte(*mock.calls[0].MessageBody), &decoded); err != nil {
		t.Fatalf("failed to unmarshal message body: %v", err)
	}

	if decoded.JobID != original.JobID {
		t.Errorf("JobID mismatch: got %q, want %q", decoded.JobID, original.JobID)
	}
	if decoded.AccountID != original.AccountID {
		t.Errorf("AccountID mismatch: got %q, want %q", decoded.AccountID, original.AccountID)
	}
	if decoded.ReportType != original.ReportType {
		t.Errorf("ReportType mismatch: got %q, want %q", decoded.ReportType, original.ReportType)
	}
	if decoded.TargetWebsite != original.TargetWebsite {
		t.Errorf("TargetWebsite mismatch: got %q, want %q", decoded.TargetWebsite, original.TargetWebsite)
	}
	if decoded.FocusKeyword != original.FocusKeyword {
		t.Errorf("FocusKeyword mismatch: got %q, want %q", decoded.FocusKeyword, original.FocusKeyword)
	}
	if !decoded.RequestedAt.Equal(original.RequestedAt) {
		t.Errorf("RequestedAt mismatch: got %v, want %v", decoded.RequestedAt, original.RequestedAt)
	}
	if len(decoded.CompetitorWebsites) != 2 {
		t.Fatalf("expected 2 competitor websites, got %d", len(decoded.CompetitorWebsites))
	}
	for i, site := range original.CompetitorWebsites {
		if decoded.CompetitorWebsites[i] != site {
			t.Errorf("CompetitorWebsites[%d] mismatch: got %q, want %q", i, decoded.CompetitorWebsites[i], site)
		}
	}
}

func TestDispatch_SetsReportTypeMessageAttribute(t *testing.T) {
	mock := &mockSQSSender{}
	d := NewReportDispatcher(mock, testQueueURL, nil)

	if err := d.Dispatch(context.Background(), testJob()); err != nil {
		t.Fatalf("Dispatch returned unexpected error: %v", err)
	}

	attr, ok := mock.calls[0].MessageAttributes["report_type"]
	if !ok {
		t.Fatal("expected 'report_type' message attribute to be set")
	}
	if *attr.StringValue != string(types.ReportSEOAudit) {
		t.Errorf("expected attribute %q, got %q", types.ReportSEOAudit, *attr.StringValue)
	}
	if *attr.DataType != "String" {
		t.Errorf("expected DataType 'String', got %q", *attr.DataType)
	}
}

func TestDispatch_SQSError(t *testing.T) {
	mock := &mockSQSSender{err: errors.New("access denied")}
	d := NewReportDispatcher(mock, testQueueURL, nil)

	err := d.Dispatch(context.Background(), testJob())
	if err == nil {
		t.Fatal("expected error from Dispatch, got nil")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeUpstreamQueue {
		t.Errorf("expected code %s, got %s", types.ErrCodeUpstreamQueue, appErr.Code)
	}
}

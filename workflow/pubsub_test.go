package workflow

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/photoid_backend/appctx"
)

func TestEventMessageCarriesCorrelationId(t *testing.T) {
	occurred := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	e := Event{
		Name:       EventUploadPromoted,
		OrderID:    7,
		UploadID:   "upload-1",
		Filename:   "order-7-abc.jpg",
		OccurredAt: occurred,
	}

	ctx := appctx.Set(context.Background(), appctx.ContextKeyCorrelationId, "req-123")
	msg := eventMessage(ctx, e)
	if msg.CorrelationId != "req-123" {
		t.Fatalf("CorrelationId = %q, want req-123", msg.CorrelationId)
	}
	if msg.Name != EventUploadPromoted || msg.OrderID != 7 || msg.UploadID != "upload-1" || !msg.OccurredAt.Equal(occurred) {
		t.Fatalf("message = %+v", msg)
	}

	// events published outside a request carry no correlation id
	if msg := eventMessage(context.Background(), e); msg.CorrelationId != "" {
		t.Fatalf("CorrelationId without request context = %q", msg.CorrelationId)
	}
}

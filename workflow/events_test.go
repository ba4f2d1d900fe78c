package workflow_test

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/photoid_backend/config"
	"bitbucket.org/mmdatafocus/photoid_backend/workflow"
)

func TestBusDeliversInRegistrationOrder(t *testing.T) {
	bus := workflow.NewBus(config.GetLogger())

	var order []string
	bus.Subscribe(workflow.EventUploadPromoted, func(ctx context.Context, e workflow.Event) {
		order = append(order, "first")
	})
	bus.Subscribe(workflow.EventUploadPromoted, func(ctx context.Context, e workflow.Event) {
		order = append(order, "second")
	})
	bus.Subscribe(workflow.EventUploadFailed, func(ctx context.Context, e workflow.Event) {
		order = append(order, "wrong-event")
	})

	bus.Publish(context.Background(), workflow.Event{Name: workflow.EventUploadPromoted, OrderID: 7})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("delivery order = %v", order)
	}
}

func TestBusStampsOccurredAt(t *testing.T) {
	bus := workflow.NewBus(config.GetLogger())

	var got workflow.Event
	bus.Subscribe(workflow.EventUploadValidated, func(ctx context.Context, e workflow.Event) {
		got = e
	})

	before := time.Now()
	bus.Publish(context.Background(), workflow.Event{Name: workflow.EventUploadValidated, UploadID: "abc"})
	if got.OccurredAt.Before(before) {
		t.Fatalf("occurred at not stamped: %v", got.OccurredAt)
	}

	// an explicit timestamp is preserved
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	bus.Publish(context.Background(), workflow.Event{Name: workflow.EventUploadValidated, OccurredAt: fixed})
	if !got.OccurredAt.Equal(fixed) {
		t.Fatalf("occurred at = %v, want %v", got.OccurredAt, fixed)
	}
}

func TestBusNoSubscribersIsNoop(t *testing.T) {
	bus := workflow.NewBus(config.GetLogger())
	// must not panic
	bus.Publish(context.Background(), workflow.Event{Name: workflow.EventUploadFailed, OrderID: 1})
}

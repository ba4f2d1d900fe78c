package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/photoid_backend/appctx"
	"bitbucket.org/mmdatafocus/photoid_backend/config"
	"github.com/sirupsen/logrus"
)

// Fixed event names. Subscribers are registered at startup and run
// synchronously, in registration order, inside the publishing request.
const (
	EventUploadValidated = "upload.validated"
	EventUploadPromoted  = "upload.promoted"
	EventUploadFailed    = "upload.failed"
)

type Event struct {
	Name       string
	OrderID    int
	UploadID   string
	Filename   string
	Error      string
	OccurredAt time.Time
}

type Subscriber func(ctx context.Context, e Event)

// Bus is the in-process replacement for the host platform's action hooks:
// a fixed set of names, ordered synchronous delivery, no dynamic
// unsubscription. Not safe for concurrent Subscribe after startup.
type Bus struct {
	subscribers map[string][]Subscriber
	logger      *logrus.Logger
}

func NewBus(logger *logrus.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string][]Subscriber),
		logger:      logger,
	}
}

func (b *Bus) Subscribe(name string, fn Subscriber) {
	b.subscribers[name] = append(b.subscribers[name], fn)
}

func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	for _, fn := range b.subscribers[e.Name] {
		fn(ctx, e)
	}
}

// eventMessage builds the wire form of a bus event, carrying the
// request's correlation id so external consumers can tie the event back
// to the originating HTTP request.
func eventMessage(ctx context.Context, e Event) config.PhotoIDEventMessage {
	cid, _ := appctx.GetString(ctx, appctx.ContextKeyCorrelationId)
	return config.PhotoIDEventMessage{
		Name:          e.Name,
		OrderID:       e.OrderID,
		UploadID:      e.UploadID,
		Filename:      e.Filename,
		Error:         e.Error,
		OccurredAt:    e.OccurredAt,
		CorrelationId: cid,
	}
}

// PubSubBridge forwards bus events to the configured Pub/Sub topic for
// external consumers. Bridge failures are logged, never surfaced to the
// publishing request.
func PubSubBridge(logger *logrus.Logger) Subscriber {
	return func(ctx context.Context, e Event) {
		if err := config.PublishPhotoIDEvent(ctx, eventMessage(ctx, e)); err != nil {
			config.LogError(logger, "events", "PubSubBridge", "publishing event", e.Name, err)
		}
	}
}

package config

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// PhotoIDEventMessage is the wire form of a photo-ID lifecycle event
// published for external integrations (compliance tooling, CRM sync).
type PhotoIDEventMessage struct {
	Name          string    `json:"name"`
	OrderID       int       `json:"order_id"`
	UploadID      string    `json:"upload_id,omitempty"`
	Filename      string    `json:"filename,omitempty"`
	Error         string    `json:"error,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
	CorrelationId string    `json:"correlation_id,omitempty"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func init() {
	godotenv.Load()
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return ""
}

// PubSubEnabled reports whether event bridging is configured at all.
func PubSubEnabled() bool {
	return getPubSubProjectID() != "" && getPubSubTopicID() != ""
}

func getPubSubTopicID() string {
	return strings.TrimSpace(os.Getenv("PUBSUB_TOPIC"))
}

func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	var (
		c   *pubsub.Client
		err error
	)
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		// Application Default Credentials (service account or
		// GOOGLE_APPLICATION_CREDENTIALS).
		c, err = pubsub.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, err
	}
	pubsubClient = c
	return pubsubClient, nil
}

// PublishPhotoIDEvent publishes one event message to the configured topic.
// Best-effort from the caller's point of view: errors are returned but the
// event bus treats bridge failures as log-and-continue.
func PublishPhotoIDEvent(ctx context.Context, msg PhotoIDEventMessage) error {
	topicID := getPubSubTopicID()
	if topicID == "" {
		return errors.New("PUBSUB_TOPIC not set")
	}
	client, err := getPubSubClient(ctx)
	if err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	topic := client.Topic(topicID)
	result := topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event": msg.Name,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		log.Printf("pubsub publish failed (event=%s order=%d): %v", msg.Name, msg.OrderID, err)
		return err
	}
	return nil
}

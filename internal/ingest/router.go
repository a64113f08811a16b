// Package ingest demultiplexes inbound sensor messages by channel and
// dispatches them to the item state tracker.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"itemreminder/go-server/internal/model"
	"itemreminder/go-server/internal/transport"
)

// Tracker is the downstream consumer of parsed telemetry.
type Tracker interface {
	HandleWeightSample(ctx context.Context, sample model.WeightSample) error
	HandleStatusSample(ctx context.Context, sample model.StatusSample) error
}

// Subscriber is the piece of the transport the router consumes.
type Subscriber interface {
	Subscribe(topic string, h transport.Handler) error
}

// Config names the two telemetry channels.
type Config struct {
	WeightTopic string
	StatusTopic string
}

// Router parses telemetry payloads and routes them by channel. Malformed
// payloads are logged and dropped; the subscriber loop never dies.
type Router struct {
	cfg     Config
	tracker Tracker
	logger  *slog.Logger
}

// New constructs a router.
func New(cfg Config, tracker Tracker, logger *slog.Logger) *Router {
	return &Router{cfg: cfg, tracker: tracker, logger: logger}
}

// Attach subscribes the router to both telemetry channels.
func (r *Router) Attach(sub Subscriber) error {
	if err := sub.Subscribe(r.cfg.WeightTopic, r.handleWeight); err != nil {
		return fmt.Errorf("subscribe weight channel: %w", err)
	}
	if err := sub.Subscribe(r.cfg.StatusTopic, r.handleStatus); err != nil {
		return fmt.Errorf("subscribe status channel: %w", err)
	}
	return nil
}

func (r *Router) handleWeight(msg transport.Message) {
	var sample model.WeightSample
	if err := json.Unmarshal(msg.Payload, &sample); err != nil {
		r.logger.Warn("weight payload decode failed",
			"topic", msg.Topic, "payload", truncate(msg.Payload, 512), "error", err)
		return
	}

	if err := r.tracker.HandleWeightSample(context.Background(), sample); err != nil {
		// Storage failures are logged and the sample dropped; the broker
		// redelivers at its own discretion.
		r.logger.Error("weight sample processing failed", "device", sample.DeviceID, "error", err)
	}
}

func (r *Router) handleStatus(msg transport.Message) {
	var sample model.StatusSample
	if err := json.Unmarshal(msg.Payload, &sample); err != nil {
		r.logger.Warn("status payload decode failed",
			"topic", msg.Topic, "payload", truncate(msg.Payload, 512), "error", err)
		return
	}

	if err := r.tracker.HandleStatusSample(context.Background(), sample); err != nil {
		r.logger.Error("status sample processing failed", "device", sample.DeviceID, "error", err)
	}
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max])
}

// Package queue implements the InvestigationConsumer: a Cloud Pub/Sub pull
// loop that drives the Investigator from `investigations` messages, per
// spec.md §4.7.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"

	"github.com/connexus-ai/docroute/internal/metrics"
	"github.com/connexus-ai/docroute/internal/model"
)

// maxDeliveryAttempts is the number of deliveries (the first one included)
// a transiently failing message gets before it is dead-lettered.
const maxDeliveryAttempts = 3

// Investigator runs the candidate-recipient investigation for a route.
type Investigator interface {
	Investigate(ctx context.Context, routeID uuid.UUID, allowRecovery bool) error
}

// investigationMessage is the JSON body of an `investigations` message.
type investigationMessage struct {
	RouteID       uuid.UUID `json:"route_id"`
	AllowRecovery bool      `json:"allow_recovery,omitempty"`
}

// Consumer pulls investigation messages and dispatches them to the
// Investigator, bounded by investigation_parallelism in-flight messages.
type Consumer struct {
	sub          *pubsub.Subscription
	deadLetter   *pubsub.Topic
	investigator Investigator
	parallelism  int
	metrics      *metrics.Pipeline
}

// NewConsumer creates an InvestigationConsumer. deadLetter receives messages
// whose errors are non-retryable or whose retries are exhausted.
func NewConsumer(sub *pubsub.Subscription, deadLetter *pubsub.Topic, investigator Investigator, parallelism int, m *metrics.Pipeline) *Consumer {
	sub.ReceiveSettings.NumGoroutines = 1
	sub.ReceiveSettings.MaxOutstandingMessages = parallelism
	return &Consumer{
		sub:          sub,
		deadLetter:   deadLetter,
		investigator: investigator,
		parallelism:  parallelism,
		metrics:      m,
	}
}

// Run blocks, pulling and processing messages until ctx is cancelled or an
// unrecoverable subscription error occurs.
func (c *Consumer) Run(ctx context.Context) error {
	sem := make(chan struct{}, c.parallelism)

	err := c.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		sem <- struct{}{}
		defer func() { <-sem }()

		if c.metrics != nil {
			c.metrics.ConsumerQueueDepth.Inc()
			defer c.metrics.ConsumerQueueDepth.Dec()
		}

		c.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("queue.Consumer.Run: %w", err)
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg *pubsub.Message) {
	requestID := msg.Attributes["X-Request-ID"]
	if requestID == "" {
		requestID = uuid.New().String()
	}
	logger := slog.With("request_id", requestID)

	var body investigationMessage
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		logger.Error("investigation message is not valid JSON, dead-lettering", "error", err)
		c.deadLetterMessage(ctx, msg, requestID)
		return
	}

	attempt := deliveryAttempt(msg)
	allowRecovery := body.AllowRecovery || attempt > 1

	if c.metrics != nil {
		recoveryLabel := "false"
		if allowRecovery {
			recoveryLabel = "true"
		}
		c.metrics.InvestigationsStarted.WithLabelValues(recoveryLabel).Inc()
	}

	err := c.investigator.Investigate(ctx, body.RouteID, allowRecovery)
	if err == nil {
		if c.metrics != nil {
			c.metrics.InvestigationsCompleted.Inc()
		}
		msg.Ack()
		return
	}

	kind := model.KindOf(err)
	if c.metrics != nil {
		c.metrics.InvestigationsFailed.WithLabelValues(string(kind)).Inc()
	}

	if kind == model.KindTransient && attempt < maxDeliveryAttempts {
		logger.Warn("transient investigation failure, nacking for redelivery",
			"route_id", body.RouteID, "attempt", attempt, "error", err)
		msg.Nack()
		return
	}

	logger.Error("investigation failed, dead-lettering",
		"route_id", body.RouteID, "attempt", attempt, "kind", kind, "error", err)
	c.deadLetterMessage(ctx, msg, requestID)
}

// deliveryAttempt returns this message's 1-indexed delivery attempt,
// defaulting to 1 when the subscription has no dead-letter policy
// configured (DeliveryAttempt is nil in that case).
func deliveryAttempt(msg *pubsub.Message) int {
	if msg.DeliveryAttempt == nil {
		return 1
	}
	return *msg.DeliveryAttempt
}

func (c *Consumer) deadLetterMessage(ctx context.Context, msg *pubsub.Message, requestID string) {
	if c.deadLetter == nil {
		msg.Ack()
		return
	}

	result := c.deadLetter.Publish(ctx, &pubsub.Message{
		Data:       msg.Data,
		Attributes: map[string]string{"X-Request-ID": requestID},
	})
	if _, err := result.Get(ctx); err != nil {
		slog.Error("failed to publish to dead-letter topic, nacking original", "error", err)
		msg.Nack()
		return
	}
	msg.Ack()
}

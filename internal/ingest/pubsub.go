package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Job types accepted on the trigger subscription.
const (
	JobTypeIngest      = "aqi_ingest"
	JobTypeHealthCheck = "health_check"
)

// PubSubHandler runs ingest on demand from Pub/Sub messages.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	processor        *MessageProcessor
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Job              *Job
	Logger           zerolog.Logger
}

// TriggerMessage is the payload of an ingest trigger.
type TriggerMessage struct {
	JobType string `json:"job_type"`

	// Locations limits the run to these names. Empty means the job's own targets.
	Locations []string `json:"locations,omitempty"`
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)
	subscriber.ReceiveSettings.MaxOutstandingMessages = 1
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		processor:        NewMessageProcessor(cfg.Job, cfg.Logger),
		logger:           cfg.Logger,
	}, nil
}

// Start receives messages until ctx is done.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		logger := h.logger.With().
			Str("message_id", msg.ID).
			Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
			Logger()

		if err := h.processor.Process(ctx, msg.Data); err != nil {
			logger.Error().Err(err).Msg("job failed")
			if IsRetryable(err) {
				msg.Nack()
				return
			}
		}
		msg.Ack()
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

// MessageProcessor decodes trigger payloads and runs the matching job.
type MessageProcessor struct {
	job    *Job
	logger zerolog.Logger
}

// NewMessageProcessor creates a new message processor.
func NewMessageProcessor(job *Job, logger zerolog.Logger) *MessageProcessor {
	return &MessageProcessor{job: job, logger: logger}
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// IsRetryable reports whether a processing error warrants redelivery.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var permanent permanentError
	return !errors.As(err, &permanent)
}

// Process handles one message payload. Malformed and unknown messages return
// a non-retryable error; a mostly failed ingest run returns a retryable one.
func (p *MessageProcessor) Process(ctx context.Context, data []byte) error {
	startTime := time.Now()

	var msg TriggerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return permanentError{fmt.Errorf("parse trigger message: %w", err)}
	}

	var err error
	switch msg.JobType {
	case JobTypeIngest:
		err = p.runIngest(ctx, msg.Locations)
	case JobTypeHealthCheck:
		err = p.healthCheck(ctx)
	default:
		return permanentError{fmt.Errorf("unknown job type %q", msg.JobType)}
	}
	if err != nil {
		return err
	}

	p.logger.Info().
		Str("job_type", msg.JobType).
		Dur("duration", time.Since(startTime)).
		Msg("job completed successfully")
	return nil
}

func (p *MessageProcessor) runIngest(ctx context.Context, locations []string) error {
	result := p.job.RunLocations(ctx, locations)
	if result.Skipped {
		return nil
	}
	if result.MostlyFailed() {
		return fmt.Errorf("%w: %d/%d", ErrTooManyFailures, result.Failed, result.Total)
	}
	return nil
}

// healthCheck resolves one location without storing it, to verify upstream
// connectivity.
func (p *MessageProcessor) healthCheck(ctx context.Context) error {
	locations := p.job.registry.Locations()
	if len(locations) == 0 {
		return permanentError{errors.New("health check: registry is empty")}
	}

	ctx, cancel := context.WithTimeout(ctx, p.job.config.Timeout)
	defer cancel()

	if _, err := p.job.resolver.ResolveReading(ctx, locations[0].Name); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	p.logger.Debug().Msg("health check passed")
	return nil
}

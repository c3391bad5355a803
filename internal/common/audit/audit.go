// internal/common/audit/audit.go
package audit

import (
	"context"
	"encoding/json"
	"time"

	appconfig "analytics-agent/internal/common/config"
	"analytics-agent/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Event is a security audit record. Raw user input is never included; only
// the rejection metadata needed for investigation.
type Event struct {
	EventType  string    `json:"eventType"`
	SessionID  string    `json:"sessionId"`
	Layer      string    `json:"layer,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	InputHash  string    `json:"inputHash,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Sink receives audit events. Publishing is fire-and-forget: a sink failure
// must never change the outcome of the request that produced the event.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// ==========================
// SNS Sink
// ==========================

// snsPublisher is the slice of the SNS client the sink uses.
type snsPublisher interface {
	Publish(ctx context.Context, input *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSink publishes audit events to an SNS topic.
type SNSSink struct {
	client   snsPublisher
	topicARN string
	log      logger.Logger
}

func NewSNSSink(ctx context.Context, cfg appconfig.AuditConfig, log logger.Logger) (*SNSSink, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, err
	}
	return &SNSSink{
		client:   sns.NewFromConfig(awsCfg),
		topicARN: cfg.TopicARN,
		log:      log,
	}, nil
}

func (s *SNSSink) Record(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		s.log.WithError(err).Warn("Failed to marshal audit event", map[string]interface{}{
			"eventType": event.EventType,
		})
		return
	}

	// Publish off the request path: one understanding pass records several
	// events, and a degraded topic must not add their latency to the query.
	// The publish outlives the request context but stays bounded.
	detached := context.WithoutCancel(ctx)
	go func() {
		pubCtx, cancel := context.WithTimeout(detached, 5*time.Second)
		defer cancel()

		_, err := s.client.Publish(pubCtx, &sns.PublishInput{
			TopicArn: aws.String(s.topicARN),
			Message:  aws.String(string(body)),
			Subject:  aws.String("analytics-agent security audit"),
		})
		if err != nil {
			s.log.WithError(err).Warn("Failed to publish audit event", map[string]interface{}{
				"eventType": event.EventType,
				"sessionId": event.SessionID,
			})
		}
	}()
}

// ==========================
// Nop Sink
// ==========================

// NopSink discards all events. Used when auditing is disabled.
type NopSink struct{}

func (NopSink) Record(context.Context, Event) {}

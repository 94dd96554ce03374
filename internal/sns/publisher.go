package sns

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/db"
)

// EventNotificationCreated is published once per newly created notification.
const EventNotificationCreated = "notification.created"

const maxBatch = 10

// API is the subset of the SNS client used here.
type API interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	PublishBatch(ctx context.Context, params *sns.PublishBatchInput, optFns ...func(*sns.Options)) (*sns.PublishBatchOutput, error)
}

// Config holds SNS topic configuration.
type Config struct {
	Region   string
	TopicARN string
	Endpoint string // optional, e.g. LocalStack
}

// Event is the JSON body subscribers receive.
type Event struct {
	Event          string              `json:"event"`
	NotificationID string              `json:"notification_id"`
	BusinessID     string              `json:"business_id"`
	Type           db.NotificationType `json:"type"`
	Priority       string              `json:"priority"`
	Title          string              `json:"title"`
	Message        string              `json:"message"`
	Metadata       db.Metadata         `json:"metadata,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// NewEvent builds the created event for a notification.
func NewEvent(n *db.SmartNotification) Event {
	return Event{
		Event:          EventNotificationCreated,
		NotificationID: n.ID.String(),
		BusinessID:     n.BusinessID.String(),
		Type:           n.Type,
		Priority:       n.Priority,
		Title:          n.Title,
		Message:        n.Message,
		Metadata:       n.Metadata,
		CreatedAt:      n.CreatedAt,
	}
}

// Publisher fans notification events out through an SNS topic. Subscribers
// filter on the type, priority and business_id message attributes.
type Publisher struct {
	client   API
	topicARN string
	logger   *zap.Logger
}

// NewPublisher creates an SNS publisher for the configured topic.
func NewPublisher(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.Info("sns publisher initialized", zap.String("topic_arn", cfg.TopicARN))
	return NewPublisherWithClient(client, cfg.TopicARN, logger), nil
}

// NewPublisherWithClient wraps an existing client.
func NewPublisherWithClient(client API, topicARN string, logger *zap.Logger) *Publisher {
	return &Publisher{client: client, topicARN: topicARN, logger: logger}
}

func attributes(e Event) map[string]types.MessageAttributeValue {
	str := func(v string) types.MessageAttributeValue {
		return types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
	}
	return map[string]types.MessageAttributeValue{
		"event":       str(e.Event),
		"type":        str(string(e.Type)),
		"priority":    str(e.Priority),
		"business_id": str(e.BusinessID),
	}
}

// Publish sends a single event.
func (p *Publisher) Publish(ctx context.Context, e Event) (string, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	result, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(p.topicARN),
		Message:           aws.String(string(payload)),
		MessageAttributes: attributes(e),
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish to SNS: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}

// PublishCreated announces newly created notifications in batches of ten.
// It returns how many events SNS accepted.
func (p *Publisher) PublishCreated(ctx context.Context, created []*db.SmartNotification) (int, error) {
	published := 0
	for start := 0; start < len(created); start += maxBatch {
		end := min(start+maxBatch, len(created))

		entries := make([]types.PublishBatchRequestEntry, 0, end-start)
		for _, n := range created[start:end] {
			e := NewEvent(n)
			payload, err := json.Marshal(e)
			if err != nil {
				return published, fmt.Errorf("failed to marshal event %s: %w", e.NotificationID, err)
			}
			entries = append(entries, types.PublishBatchRequestEntry{
				Id:                aws.String(e.NotificationID),
				Message:           aws.String(string(payload)),
				MessageAttributes: attributes(e),
			})
		}

		result, err := p.client.PublishBatch(ctx, &sns.PublishBatchInput{
			TopicArn:                   aws.String(p.topicARN),
			PublishBatchRequestEntries: entries,
		})
		if err != nil {
			return published, fmt.Errorf("failed to publish batch to SNS: %w", err)
		}
		for _, f := range result.Failed {
			p.logger.Warn("sns rejected notification event",
				zap.String("notification_id", aws.ToString(f.Id)),
				zap.String("code", aws.ToString(f.Code)),
			)
		}
		published += len(result.Successful)
	}
	return published, nil
}

package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

// Received is a decoded scan request plus the handle needed to ack it.
type Received struct {
	Request       ScanRequest
	ReceiptHandle string
	MessageID     string
	ReceiveCount  int // 1 on first delivery
}

// Consumer reads scan requests from SQS.
type Consumer struct {
	client            API
	queueURL          string
	logger            *zap.Logger
	maxMessages       int32
	visibilityTimeout int32
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(ctx context.Context, cfg Config, logger *zap.Logger) (*Consumer, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("sqs consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return NewConsumerWithClient(client, cfg.QueueURL, logger), nil
}

// NewConsumerWithClient wraps an existing client.
func NewConsumerWithClient(client API, queueURL string, logger *zap.Logger) *Consumer {
	return &Consumer{
		client:            client,
		queueURL:          queueURL,
		logger:            logger,
		maxMessages:       10,
		visibilityTimeout: 120,
	}
}

// Receive long-polls for up to ten scan requests. Undecodable messages are
// deleted so they do not come back forever.
func (c *Consumer) Receive(ctx context.Context) ([]Received, error) {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: c.maxMessages,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   c.visibilityTimeout,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive failed: %w", err)
	}

	out := make([]Received, 0, len(result.Messages))
	for _, m := range result.Messages {
		var req ScanRequest
		if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &req); err != nil || req.BusinessID == "" {
			c.logger.Error("dropping malformed scan request",
				zap.String("message_id", aws.ToString(m.MessageId)),
				zap.Error(err),
			)
			if derr := c.Delete(ctx, aws.ToString(m.ReceiptHandle)); derr != nil {
				c.logger.Warn("failed to delete malformed message", zap.Error(derr))
			}
			continue
		}
		out = append(out, Received{
			Request:       req,
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			MessageID:     aws.ToString(m.MessageId),
			ReceiveCount:  receiveCount(m.Attributes),
		})
	}
	return out, nil
}

// Delete acks a message after the scan finished.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}

// ChangeVisibility sets when a message becomes visible again. Zero makes a
// failed scan retryable right away.
func (c *Consumer) ChangeVisibility(ctx context.Context, receiptHandle string, seconds int32) error {
	_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: seconds,
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility failed: %w", err)
	}
	return nil
}

func receiveCount(attrs map[string]string) int {
	n, err := strconv.Atoi(attrs[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

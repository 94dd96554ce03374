package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

// maxBatch is the SQS limit for SendMessageBatch entries.
const maxBatch = 10

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
	Endpoint string // optional, e.g. LocalStack
}

// API is the subset of the SQS client used here.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Scan request reasons.
const (
	ReasonSchedule = "schedule"
	ReasonManual   = "manual"
	ReasonCLI      = "cli"
)

// ScanRequest asks a worker to run the opportunity scan for one business.
// Delivery is at-least-once; scanning twice is harmless.
type ScanRequest struct {
	BusinessID  string `json:"business_id"`
	Reason      string `json:"reason"`
	RequestedAt int64  `json:"requested_at"`
}

func newClient(ctx context.Context, cfg Config) (*sqs.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// isFIFO reports whether the queue keeps per-group ordering. On FIFO queues
// each business is its own message group, so its scans never run in parallel.
func isFIFO(queueURL string) bool {
	return strings.HasSuffix(queueURL, ".fifo")
}

// Producer sends scan requests to SQS.
type Producer struct {
	client   API
	queueURL string
	logger   *zap.Logger
}

// NewProducer creates a new SQS producer.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("sqs producer initialized",
		zap.String("queue_url", cfg.QueueURL),
		zap.Bool("fifo", isFIFO(cfg.QueueURL)),
	)

	return NewProducerWithClient(client, cfg.QueueURL, logger), nil
}

// NewProducerWithClient wraps an existing client.
func NewProducerWithClient(client API, queueURL string, logger *zap.Logger) *Producer {
	return &Producer{client: client, queueURL: queueURL, logger: logger}
}

func (p *Producer) encode(req *ScanRequest) (string, error) {
	if req.BusinessID == "" {
		return "", fmt.Errorf("scan request missing business_id")
	}
	if req.RequestedAt == 0 {
		req.RequestedAt = time.Now().UnixNano()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}
	return string(body), nil
}

// dedupID collapses requests for the same business within one minute.
func dedupID(req ScanRequest) string {
	return req.BusinessID + "-" + strconv.FormatInt(req.RequestedAt/int64(time.Minute), 10)
}

// Enqueue sends one scan request and returns the SQS message id.
func (p *Producer) Enqueue(ctx context.Context, req ScanRequest) (string, error) {
	body, err := p.encode(&req)
	if err != nil {
		return "", err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(body),
	}
	if isFIFO(p.queueURL) {
		input.MessageGroupId = aws.String(req.BusinessID)
		input.MessageDeduplicationId = aws.String(dedupID(req))
	}

	result, err := p.client.SendMessage(ctx, input)
	if err != nil {
		p.logger.Error("failed to send message to sqs",
			zap.Error(err),
			zap.String("business_id", req.BusinessID),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}

// EnqueueBatch sends scan requests in chunks of ten. Entries that fail are
// logged and skipped; the returned count is how many were accepted.
func (p *Producer) EnqueueBatch(ctx context.Context, reqs []ScanRequest) (int, error) {
	sent := 0
	for start := 0; start < len(reqs); start += maxBatch {
		end := min(start+maxBatch, len(reqs))

		entries := make([]types.SendMessageBatchRequestEntry, 0, end-start)
		for i := start; i < end; i++ {
			req := reqs[i]
			body, err := p.encode(&req)
			if err != nil {
				p.logger.Warn("skipping scan request", zap.Error(err))
				continue
			}
			entry := types.SendMessageBatchRequestEntry{
				Id:          aws.String(strconv.Itoa(i)),
				MessageBody: aws.String(body),
			}
			if isFIFO(p.queueURL) {
				entry.MessageGroupId = aws.String(req.BusinessID)
				entry.MessageDeduplicationId = aws.String(dedupID(req))
			}
			entries = append(entries, entry)
		}
		if len(entries) == 0 {
			continue
		}

		out, err := p.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(p.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return sent, fmt.Errorf("sqs batch send failed: %w", err)
		}
		for _, f := range out.Failed {
			p.logger.Warn("scan request rejected by sqs",
				zap.String("entry", aws.ToString(f.Id)),
				zap.String("code", aws.ToString(f.Code)),
				zap.String("message", aws.ToString(f.Message)),
			)
		}
		sent += len(out.Successful)
	}
	return sent, nil
}

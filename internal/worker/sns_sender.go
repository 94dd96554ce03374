package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// maxSMSLength keeps a message inside the SNS limit for one transactional SMS.
const maxSMSLength = 1600

type smsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSender sends SMS through AWS SNS direct publish.
type SNSSender struct {
	client smsAPI
	logger *zap.Logger
}

type SNSConfig struct {
	Region   string
	Endpoint string
}

func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}
	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &SNSSender{client: client, logger: logger}, nil
}

func (s *SNSSender) Send(ctx context.Context, d *Delivery) error {
	if d.Channel != ChannelSMS {
		return fmt.Errorf("SNS sender only supports SMS, got: %s", d.Channel)
	}
	if !strings.HasPrefix(d.Recipient, "+") {
		return fmt.Errorf("SMS recipient %q is not an E.164 number", d.Recipient)
	}
	if d.Body == "" {
		return fmt.Errorf("SMS delivery missing body")
	}

	body := d.Body
	if len(body) > maxSMSLength {
		body = body[:maxSMSLength]
	}

	result, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(d.Recipient),
		Message:     aws.String(body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("SMS sent via SNS",
		zap.String("business_id", d.BusinessID.String()),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

func (s *SNSSender) SupportsChannel(channel string) bool {
	return channel == ChannelSMS
}

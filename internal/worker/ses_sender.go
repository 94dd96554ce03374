package worker

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESSender emails the opportunity digest through AWS SES.
type SESSender struct {
	client sesAPI
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	Endpoint  string
	FromEmail string
}

func NewSESSender(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	client := ses.NewFromConfig(awsCfg, func(o *ses.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &SESSender{client: client, from: cfg.FromEmail, logger: logger}, nil
}

func (s *SESSender) Send(ctx context.Context, d *Delivery) error {
	if d.Channel != ChannelEmail {
		return fmt.Errorf("SES sender only supports email, got: %s", d.Channel)
	}
	if d.Recipient == "" {
		return fmt.Errorf("email delivery missing recipient")
	}
	if d.Subject == "" || d.Body == "" {
		return fmt.Errorf("email delivery missing subject or body")
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{d.Recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(d.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(d.Body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via SES",
		zap.String("business_id", d.BusinessID.String()),
		zap.String("to", d.Recipient),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

func (s *SESSender) SupportsChannel(channel string) bool {
	return channel == ChannelEmail
}

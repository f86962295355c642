package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/projectpulse/beacon/internal/notify"
)

// SESSender delivers the email channel via AWS SES.
type SESSender struct {
	client    *ses.Client
	from      string
	directory Directory
	logger    *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

func NewSESSender(ctx context.Context, cfg SESConfig, directory Directory, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESSender{
		client:    ses.NewFromConfig(awsCfg),
		from:      cfg.FromEmail,
		directory: directory,
		logger:    logger,
	}, nil
}

// Send emails the notification title and message to the recipient's
// address from the directory.
func (s *SESSender) Send(ctx context.Context, n *notify.Notification, channel notify.Channel) error {
	if channel != notify.ChannelEmail {
		return fmt.Errorf("SES sender only supports email, got: %s", channel)
	}

	to, ok := s.directory.EmailFor(n.RecipientID)
	if !ok {
		return fmt.Errorf("no email address on file for recipient %s", n.RecipientID)
	}

	body := n.Message
	if n.SenderName != "" {
		body = fmt.Sprintf("%s\n\n— %s", n.Message, n.SenderName)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(n.Title),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(body),
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
		zap.String("notification_id", n.ID.String()),
		zap.String("to", to),
		zap.String("message_id", *result.MessageId),
	)
	return nil
}

func (s *SESSender) Supports(channel notify.Channel) bool {
	return channel == notify.ChannelEmail
}

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/projectpulse/beacon/internal/notify"
)

// SNSSender delivers push and sms via AWS SNS: push as a publish to the
// configured platform topic (device fan-out happens downstream), sms as a
// direct phone-number publish.
type SNSSender struct {
	client       *sns.Client
	pushTopicARN string
	directory    Directory
	logger       *zap.Logger
}

type SNSConfig struct {
	Region       string
	PushTopicARN string
}

// pushMessage is the payload published for OS push delivery. The push
// relay dedupes by notification_id, which keeps dispatch idempotent even
// if the engine is restarted between store and dispatch.
type pushMessage struct {
	NotificationID string `json:"notification_id"`
	RecipientID    string `json:"recipient_id"`
	Title          string `json:"title"`
	Message        string `json:"message"`
	Priority       string `json:"priority"`
	Category       string `json:"category"`
}

func NewSNSSender(ctx context.Context, cfg SNSConfig, directory Directory, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}
	return &SNSSender{
		client:       sns.NewFromConfig(awsCfg),
		pushTopicARN: cfg.PushTopicARN,
		directory:    directory,
		logger:       logger,
	}, nil
}

func (s *SNSSender) Send(ctx context.Context, n *notify.Notification, channel notify.Channel) error {
	switch channel {
	case notify.ChannelPush:
		return s.sendPush(ctx, n)
	case notify.ChannelSMS:
		return s.sendSMS(ctx, n)
	default:
		return fmt.Errorf("SNS sender only supports push and sms, got: %s", channel)
	}
}

func (s *SNSSender) sendPush(ctx context.Context, n *notify.Notification) error {
	if s.pushTopicARN == "" {
		return fmt.Errorf("push topic not configured")
	}

	payload, err := json.Marshal(pushMessage{
		NotificationID: n.ID.String(),
		RecipientID:    n.RecipientID,
		Title:          n.Title,
		Message:        n.Message,
		Priority:       string(n.Priority),
		Category:       string(n.Category),
	})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(s.pushTopicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"recipient_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(n.RecipientID),
			},
			"priority": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(n.Priority)),
			},
		},
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns push publish failed: %w", err)
	}

	s.logger.Info("push published via SNS",
		zap.String("notification_id", n.ID.String()),
		zap.String("recipient_id", n.RecipientID),
		zap.String("message_id", *result.MessageId),
	)
	return nil
}

func (s *SNSSender) sendSMS(ctx context.Context, n *notify.Notification) error {
	phone, ok := s.directory.PhoneFor(n.RecipientID)
	if !ok {
		return fmt.Errorf("no phone number on file for recipient %s", n.RecipientID)
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(fmt.Sprintf("%s: %s", n.Title, n.Message)),
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns sms publish failed: %w", err)
	}

	s.logger.Info("SMS sent via SNS",
		zap.String("notification_id", n.ID.String()),
		zap.String("phone_number", phone),
		zap.String("message_id", *result.MessageId),
	)
	return nil
}

func (s *SNSSender) Supports(channel notify.Channel) bool {
	return channel == notify.ChannelPush || channel == notify.ChannelSMS
}

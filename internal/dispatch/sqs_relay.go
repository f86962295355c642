package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/projectpulse/beacon/internal/notify"
)

// SQSRelay is a Sender that enqueues secondary-channel deliveries to SQS
// for an external delivery worker instead of sending them in-process.
// Used by deployments that want provider retries and throughput isolation
// outside the engine; when configured, it takes precedence over the
// direct SES/SNS senders in the multi-sender chain.
type SQSRelay struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

type SQSConfig struct {
	Region   string
	QueueURL string
}

// relayMessage is the job payload handed to the delivery worker. The
// worker dedupes on notification_id + channel.
type relayMessage struct {
	NotificationID string `json:"notification_id"`
	RecipientID    string `json:"recipient_id"`
	Channel        string `json:"channel"`
	Title          string `json:"title"`
	Message        string `json:"message"`
	Priority       string `json:"priority"`
	Category       string `json:"category"`
}

func NewSQSRelay(ctx context.Context, cfg SQSConfig, logger *zap.Logger) (*SQSRelay, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SQS: %w", err)
	}
	return &SQSRelay{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// Send enqueues one channel delivery job.
func (r *SQSRelay) Send(ctx context.Context, n *notify.Notification, channel notify.Channel) error {
	payload, err := json.Marshal(relayMessage{
		NotificationID: n.ID.String(),
		RecipientID:    n.RecipientID,
		Channel:        string(channel),
		Title:          n.Title,
		Message:        n.Message,
		Priority:       string(n.Priority),
		Category:       string(n.Category),
	})
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(r.queueURL),
		MessageBody: aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"channel": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(channel)),
			},
		},
	}

	result, err := r.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("sqs enqueue failed: %w", err)
	}

	r.logger.Info("delivery job enqueued",
		zap.String("notification_id", n.ID.String()),
		zap.String("channel", string(channel)),
		zap.String("sqs_message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

func (r *SQSRelay) Supports(channel notify.Channel) bool {
	return channel == notify.ChannelPush || channel == notify.ChannelEmail || channel == notify.ChannelSMS
}

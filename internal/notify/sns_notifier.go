// internal/notify/sns_notifier.go
package notify

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	awssdk "github.com/aws/aws-sdk-go-v2/aws"

	"gacp-engine/internal/common/aws"
	"gacp-engine/internal/common/logger"
)

// SNSNotifier publishes workflow events to an SNS topic. The event type is
// attached as a message attribute so subscribers can filter.
type SNSNotifier struct {
	client   *aws.SNSClient
	topicARN string
	log      logger.Logger
}

func NewSNSNotifier(client *aws.SNSClient, topicARN string, log logger.Logger) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN, log: log}
}

func (n *SNSNotifier) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: awssdk.String(n.topicARN),
		Message:  awssdk.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"eventType": {
				DataType:    awssdk.String("String"),
				StringValue: awssdk.String(event.Type),
			},
		},
	})
	if err != nil {
		n.log.WithError(err).Error("sns publish failed", map[string]interface{}{
			"type":          event.Type,
			"applicationId": event.ApplicationID,
		})
		return err
	}
	return nil
}

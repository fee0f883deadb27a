package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/yairfalse/tara/internal/awsapi"
)

// SNS publishes messages to a topic.
type SNS struct {
	client   awsapi.SNSAPI
	topicARN string
}

// NewSNS creates an SNS sender for topicARN.
func NewSNS(client awsapi.SNSAPI, topicARN string) *SNS {
	return &SNS{client: client, topicARN: topicARN}
}

// Send implements Sender. The plain-text body is published.
func (s *SNS) Send(ctx context.Context, msg Message) error {
	in := &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(msg.Text),
	}
	if msg.Subject != "" {
		in.Subject = aws.String(truncateSubject(msg.Subject))
	}

	if _, err := s.client.Publish(ctx, in); err != nil {
		return fmt.Errorf("publish to %s: %w", s.topicARN, err)
	}
	return nil
}

// SNS rejects subjects longer than 100 characters.
func truncateSubject(s string) string {
	const limit = 100
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/yairfalse/tara/internal/awsapi"
)

// ErrNoRecipient is returned when an email has no destination.
var ErrNoRecipient = errors.New("no recipient")

// SES sends email through Simple Email Service.
type SES struct {
	client awsapi.SESAPI
	from   string
}

// NewSES creates an SES sender. from is both Source and Reply-To.
func NewSES(client awsapi.SESAPI, from string) *SES {
	return &SES{client: client, from: from}
}

// Send implements Sender.
func (s *SES) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipient
	}

	body := &sestypes.Body{}
	if msg.Text != "" {
		body.Text = utf8Content(msg.Text)
	}
	if msg.HTML != "" {
		body.Html = utf8Content(msg.HTML)
	}

	_, err := s.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(s.from),
		Destination: &sestypes.Destination{ToAddresses: msg.To},
		Message: &sestypes.Message{
			Subject: utf8Content(msg.Subject),
			Body:    body,
		},
		ReplyToAddresses: []string{s.from},
	})
	if err != nil {
		return fmt.Errorf("send email to %s: %w", strings.Join(msg.To, ","), err)
	}
	return nil
}

func utf8Content(data string) *sestypes.Content {
	return &sestypes.Content{Data: aws.String(data), Charset: aws.String("UTF-8")}
}

// internal/dispatch/transport.go

// Package dispatch delivers due notifications through the outbound
// transports and records the terminal outcome.
package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"notify-engine/internal/common/logger"
	"notify-engine/internal/phone"
)

// Result reports one delivery attempt.
type Result struct {
	Success           bool
	ProviderMessageID string
}

// Transport sends one message to one recipient.
type Transport interface {
	Deliver(ctx context.Context, recipient, subject, text string) (Result, error)
}

// SNSClient is the subset of the SNS API the SMS transport uses.
type SNSClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SESClient is the subset of the SES API the email transport uses.
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SNSTransport delivers SMS via AWS SNS.
type SNSTransport struct {
	client   SNSClient
	senderID string
	logger   logger.Logger
}

func NewSNSTransport(client SNSClient, senderID string, log logger.Logger) *SNSTransport {
	return &SNSTransport{client: client, senderID: senderID, logger: log}
}

func (t *SNSTransport) Deliver(ctx context.Context, recipient, subject, text string) (Result, error) {
	input := &sns.PublishInput{
		PhoneNumber: aws.String(recipient),
		Message:     aws.String(text),
	}
	if t.senderID != "" {
		input.MessageAttributes = map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(t.senderID),
			},
		}
	}
	out, err := t.client.Publish(ctx, input)
	if err != nil {
		return Result{}, err
	}
	return Result{Success: true, ProviderMessageID: aws.ToString(out.MessageId)}, nil
}

// SESTransport delivers email via AWS SES.
type SESTransport struct {
	client SESClient
	from   string
	logger logger.Logger
}

func NewSESTransport(client SESClient, from string, log logger.Logger) *SESTransport {
	return &SESTransport{client: client, from: from, logger: log}
}

func (t *SESTransport) Deliver(ctx context.Context, recipient, subject, text string) (Result, error) {
	input := &ses.SendEmailInput{
		Source: aws.String(t.from),
		Destination: &sestypes.Destination{
			ToAddresses: []string{recipient},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(text), Charset: aws.String("UTF-8")},
			},
		},
	}
	out, err := t.client.SendEmail(ctx, input)
	if err != nil {
		return Result{}, err
	}
	return Result{Success: true, ProviderMessageID: aws.ToString(out.MessageId)}, nil
}

// Router picks the transport by recipient address shape.
type Router struct {
	sms   Transport
	email Transport
}

func NewRouter(sms, email Transport) *Router {
	return &Router{sms: sms, email: email}
}

func (r *Router) Deliver(ctx context.Context, recipient, subject, text string) (Result, error) {
	if phone.IsEmail(recipient) {
		if r.email == nil {
			return Result{}, fmt.Errorf("no email transport configured for %s", recipient)
		}
		return r.email.Deliver(ctx, recipient, subject, text)
	}
	if r.sms == nil {
		return Result{}, fmt.Errorf("no sms transport configured for %s", recipient)
	}
	return r.sms.Deliver(ctx, recipient, subject, text)
}

package aws

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SESClient sends applicant emails.
type SESClient struct {
	api sesAPI
}

// SNSClient sends applicant text messages.
type SNSClient struct {
	api snsAPI
}

type sesAPI interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
	GetSendQuota(ctx context.Context, input *ses.GetSendQuotaInput, optFns ...func(*ses.Options)) (*ses.GetSendQuotaOutput, error)
}

type snsAPI interface {
	Publish(ctx context.Context, input *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	GetSMSAttributes(ctx context.Context, input *sns.GetSMSAttributesInput, optFns ...func(*sns.Options)) (*sns.GetSMSAttributesOutput, error)
}

func NewSESClient(ctx context.Context, region string) (*SESClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SESClient{api: ses.NewFromConfig(cfg)}, nil
}

func NewSNSClient(ctx context.Context, region string) (*SNSClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SNSClient{api: sns.NewFromConfig(cfg)}, nil
}

func (s *SESClient) SendEmail(ctx context.Context, input *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return s.api.SendEmail(ctx, input, optFns...)
}

// Ping fails when the account cannot send any more mail in the current window.
func (s *SESClient) Ping(ctx context.Context) error {
	out, err := s.api.GetSendQuota(ctx, &ses.GetSendQuotaInput{})
	if err != nil {
		return fmt.Errorf("ses quota check failed: %w", err)
	}
	if out.Max24HourSend > 0 && out.SentLast24Hours >= out.Max24HourSend {
		return fmt.Errorf("ses daily quota exhausted (%.0f/%.0f)", out.SentLast24Hours, out.Max24HourSend)
	}
	return nil
}

func (s *SNSClient) Publish(ctx context.Context, input *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return s.api.Publish(ctx, input, optFns...)
}

func (s *SNSClient) Ping(ctx context.Context) error {
	if _, err := s.api.GetSMSAttributes(ctx, &sns.GetSMSAttributesInput{}); err != nil {
		return fmt.Errorf("sns check failed: %w", err)
	}
	return nil
}

// internal/common/aws/clients.go
package aws

import (
	"context"
	"fmt"

	appconfig "loan-catalog/internal/common/config"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSPublisher is the part of the SNS API the notifier needs.
type SNSPublisher interface {
	Publish(ctx context.Context, input *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SESSender is the part of the SES API the notifier needs.
type SESSender interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// NewNotifier builds the job failure notifier from configuration. It
// returns nil when notifications are disabled or no channel is set up.
func NewNotifier(ctx context.Context, cfg appconfig.NotificationConfig) (*JobFailureNotifier, error) {
	settings := cfg.AWS
	if !settings.Enabled {
		return nil, nil
	}
	wantSNS := settings.SNSTopicARN != ""
	wantSES := settings.SESFrom != "" && len(settings.SESTo) > 0
	if !wantSNS && !wantSES {
		return nil, nil
	}

	sdkCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(settings.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config for %s: %w", settings.Region, err)
	}

	var publisher SNSPublisher
	if wantSNS {
		publisher = sns.NewFromConfig(sdkCfg)
	}
	var sender SESSender
	if wantSES {
		sender = ses.NewFromConfig(sdkCfg)
	}
	return NewJobFailureNotifier(publisher, settings.SNSTopicARN, sender, settings.SESFrom, settings.SESTo), nil
}

package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// JobFailure describes one failed refresh job run.
type JobFailure struct {
	Job      string    `json:"job"`
	RunID    string    `json:"runId"`
	Sources  []string  `json:"sources"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failedAt"`
}

// JobFailureNotifier publishes job failures to an SNS topic and mails them
// through SES. Either channel may be left unconfigured.
type JobFailureNotifier struct {
	sns      SNSPublisher
	ses      SESSender
	topicARN string
	from     string
	to       []string
}

func NewJobFailureNotifier(snsClient SNSPublisher, topicARN string, sesClient SESSender, from string, to []string) *JobFailureNotifier {
	return &JobFailureNotifier{
		sns:      snsClient,
		ses:      sesClient,
		topicARN: topicARN,
		from:     from,
		to:       to,
	}
}

func (n *JobFailureNotifier) NotifyJobFailure(ctx context.Context, failure JobFailure) error {
	subject := fmt.Sprintf("loan-catalog job %s failed", failure.Job)
	var errs []error

	if n.sns != nil && n.topicARN != "" {
		body, err := json.Marshal(failure)
		if err != nil {
			return fmt.Errorf("encode job failure: %w", err)
		}
		_, err = n.sns.Publish(ctx, &sns.PublishInput{
			TopicArn: awssdk.String(n.topicARN),
			Subject:  awssdk.String(subject),
			Message:  awssdk.String(string(body)),
			MessageAttributes: map[string]snstypes.MessageAttributeValue{
				"job": {DataType: awssdk.String("String"), StringValue: awssdk.String(failure.Job)},
			},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("sns publish: %w", err))
		}
	}

	if n.ses != nil && n.from != "" && len(n.to) > 0 {
		text := fmt.Sprintf("Job: %s\nRun: %s\nSources: %v\nFailed at: %s\nError: %s\n",
			failure.Job, failure.RunID, failure.Sources, failure.FailedAt.Format(time.RFC3339), failure.Error)
		_, err := n.ses.SendEmail(ctx, &ses.SendEmailInput{
			Source:      awssdk.String(n.from),
			Destination: &sestypes.Destination{ToAddresses: n.to},
			Message: &sestypes.Message{
				Subject: &sestypes.Content{Data: awssdk.String(subject)},
				Body:    &sestypes.Body{Text: &sestypes.Content{Data: awssdk.String(text)}},
			},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("ses send: %w", err))
		}
	}

	return errors.Join(errs...)
}

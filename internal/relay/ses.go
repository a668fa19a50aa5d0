package relay

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/chitbox/chitbox/internal/log"
	"github.com/chitbox/chitbox/internal/models"
)

type SESOptions struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// SendEmailAPI is the subset of the SES v2 client used by the relay.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES sends the composed MIME message as a raw SES v2 email. Retries are left
// to the outbound queue.
type SES struct {
	client   SendEmailAPI
	composer Composer
}

// NewSES loads the default AWS configuration for opts.Region. Static credentials
// are used when both keys are set, otherwise the default credential chain applies.
func NewSES(ctx context.Context, opts SESOptions, composer Composer) (*SES, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESWithClient(sesv2.NewFromConfig(awsCfg), composer), nil
}

func NewSESWithClient(client SendEmailAPI, composer Composer) *SES {
	return &SES{client: client, composer: composer}
}

func (r *SES) Name() string {
	return "ses"
}

func (r *SES) Send(ctx context.Context, e *models.OutboundEmail) error {
	raw, err := r.composer.Outbound(e)
	if err != nil {
		return fmt.Errorf("failed to compose message: %w", err)
	}

	cc := make([]string, 0, len(e.Cc))
	for _, a := range e.Cc {
		cc = append(cc, a.Email)
	}
	bcc := make([]string, 0, len(e.Bcc))
	for _, a := range e.Bcc {
		bcc = append(bcc, a.Email)
	}

	out, err := r.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(e.From.Email),
		Destination: &types.Destination{
			ToAddresses:  []string{e.To},
			CcAddresses:  cc,
			BccAddresses: bcc,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	})
	if err != nil {
		return fmt.Errorf("SES rejected message: %w", err)
	}

	log.DebugContext(ctx).
		Str("outbound_id", e.ID).
		Str("ses_message_id", aws.ToString(out.MessageId)).
		Msg("handed message to SES")

	return nil
}

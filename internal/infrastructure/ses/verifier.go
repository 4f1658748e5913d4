package ses

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/go-sender-api/internal/config"
	"github.com/go-sender-api/internal/domain"
)

// Verifier drives identity verification through the SES v2 API.
// Mailbox identities trigger the provider's verification email on creation;
// domain identities return DKIM tokens that become the tenant's DNS record set.
type Verifier struct {
	client *sesv2.Client
}

func NewVerifier(cfg *config.Config) (*Verifier, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	if cfg.AWSAccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	clientOpts := []func(*sesv2.Options){}
	if cfg.AWSEndpointURL != "" {
		clientOpts = append(clientOpts, func(o *sesv2.Options) {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		})
	}
	return &Verifier{client: sesv2.NewFromConfig(awsCfg, clientOpts...)}, nil
}

// InitiateMailboxVerification registers the address as an SES identity, which
// makes the provider send its verification mail. Re-issuing for an existing
// identity deletes and recreates it so a fresh mail goes out.
func (v *Verifier) InitiateMailboxVerification(ctx context.Context, email string) (string, error) {
	_, err := v.client.CreateEmailIdentity(ctx, &sesv2.CreateEmailIdentityInput{
		EmailIdentity: aws.String(email),
	})
	var exists *types.AlreadyExistsException
	if errors.As(err, &exists) {
		if _, err := v.client.DeleteEmailIdentity(ctx, &sesv2.DeleteEmailIdentityInput{EmailIdentity: aws.String(email)}); err != nil {
			return "", fmt.Errorf("recreating identity %s: %w", email, err)
		}
		_, err = v.client.CreateEmailIdentity(ctx, &sesv2.CreateEmailIdentityInput{
			EmailIdentity: aws.String(email),
		})
	}
	if err != nil {
		return "", fmt.Errorf("creating identity %s: %w", email, err)
	}
	return email, nil
}

// InitiateDomainVerification registers the domain as an SES identity and
// returns the DKIM CNAME record set the tenant must publish.
func (v *Verifier) InitiateDomainVerification(ctx context.Context, dom string) (string, []domain.DNSRecord, error) {
	out, err := v.client.CreateEmailIdentity(ctx, &sesv2.CreateEmailIdentityInput{
		EmailIdentity: aws.String(dom),
	})

	var tokens []string
	var exists *types.AlreadyExistsException
	switch {
	case errors.As(err, &exists):
		// Identity already registered with the provider; fetch its tokens
		// so the re-issued record set matches what SES expects.
		got, gErr := v.client.GetEmailIdentity(ctx, &sesv2.GetEmailIdentityInput{EmailIdentity: aws.String(dom)})
		if gErr != nil {
			return "", nil, fmt.Errorf("fetching identity %s: %w", dom, gErr)
		}
		if got.DkimAttributes != nil {
			tokens = got.DkimAttributes.Tokens
		}
	case err != nil:
		return "", nil, fmt.Errorf("creating identity %s: %w", dom, err)
	default:
		if out.DkimAttributes != nil {
			tokens = out.DkimAttributes.Tokens
		}
	}

	return dom, dkimRecords(dom, tokens), nil
}

// PollVerificationStatus asks the provider for the current state of an
// identity. The returned reason is empty unless the status is failed.
func (v *Verifier) PollVerificationStatus(ctx context.Context, identity string) (domain.VerificationStatus, string, error) {
	out, err := v.client.GetEmailIdentity(ctx, &sesv2.GetEmailIdentityInput{
		EmailIdentity: aws.String(identity),
	})
	if err != nil {
		return "", "", fmt.Errorf("fetching identity %s: %w", identity, err)
	}

	if out.VerifiedForSendingStatus {
		return domain.StatusVerified, "", nil
	}
	if out.DkimAttributes != nil && out.DkimAttributes.Status == types.DkimStatusFailed {
		return domain.StatusFailed, "provider rejected the DKIM record set", nil
	}
	return domain.StatusPending, "", nil
}

// DeleteIdentity removes the identity from the provider. A missing identity
// is not an error; cleanup is best effort.
func (v *Verifier) DeleteIdentity(ctx context.Context, identity string) error {
	_, err := v.client.DeleteEmailIdentity(ctx, &sesv2.DeleteEmailIdentityInput{
		EmailIdentity: aws.String(identity),
	})
	var nf *types.NotFoundException
	if errors.As(err, &nf) {
		return nil
	}
	return err
}

func dkimRecords(dom string, tokens []string) []domain.DNSRecord {
	records := make([]domain.DNSRecord, 0, len(tokens))
	for _, token := range tokens {
		records = append(records, domain.DNSRecord{
			Name:        fmt.Sprintf("%s._domainkey.%s", token, dom),
			Type:        "CNAME",
			Value:       fmt.Sprintf("%s.dkim.amazonses.com", token),
			Description: "DKIM record for domain ownership verification",
		})
	}
	return records
}

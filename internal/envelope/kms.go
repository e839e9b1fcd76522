package envelope

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	smithy "github.com/aws/smithy-go"
)

// kmsClient is the subset of *kms.Client this package depends on, so tests
// can substitute a fake without a live AWS account.
type kmsClient interface {
	Encrypt(ctx context.Context, in *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// awsKmsEEK wraps DEKs using a remote AWS KMS key (the "AwsKms" EEK variant,
// spec.md §3.1). Wrap/Unwrap round-trip through the KMS Encrypt/Decrypt
// APIs; the plaintext DEK material never leaves the process unencrypted.
type awsKmsEEK struct {
	id     string
	arn    string
	region string
	client kmsClient
}

// NewAwsKmsEEK constructs an AwsKms-variant EEK backed by client (typically
// kms.NewFromConfig with Region set to region).
func NewAwsKmsEEK(id, arn, region string, client *kms.Client) (EEK, error) {
	if arn == "" {
		return nil, fmt.Errorf("aws kms eek %q: arn is required", id)
	}
	if region == "" {
		return nil, fmt.Errorf("aws kms eek %q: region is required", id)
	}
	return &awsKmsEEK{id: id, arn: arn, region: region, client: client}, nil
}

func (e *awsKmsEEK) ID() string { return e.id }

func (e *awsKmsEEK) Wrap(ctx context.Context, plaintext []byte) ([]byte, error) {
	out, err := e.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(e.arn),
		Plaintext: plaintext,
	})
	if err != nil {
		return nil, fmt.Errorf("kms encrypt with %q: %w (retryable=%v)", e.arn, err, isRetryableKMSError(err))
	}
	return out.CiphertextBlob, nil
}

func (e *awsKmsEEK) Unwrap(ctx context.Context, wrapped []byte) ([]byte, error) {
	out, err := e.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(e.arn),
		CiphertextBlob: wrapped,
	})
	if err != nil {
		return nil, fmt.Errorf("kms decrypt with %q: %w (retryable=%v)", e.arn, err, isRetryableKMSError(err))
	}
	return out.Plaintext, nil
}

// isRetryableKMSError reports whether err is a transient KMS API error (key
// store throttling, internal service fault) rather than a permanent one
// (access denied, key not found). Wrap and Unwrap fold the verdict into the
// text of the error they return ("retryable=true/false"); no caller
// branches on it.
func isRetryableKMSError(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "ThrottlingException", "KMSInternalException", "DependencyTimeoutException":
		return true
	}
	return false
}

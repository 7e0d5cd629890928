package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// bedrockSigner signs upstream requests with AWS SigV4 using the default
// credential chain (env vars, shared config, instance role).
type bedrockSigner struct {
	creds  aws.CredentialsProvider
	signer *v4.Signer
	region string
}

func newBedrockSigner(ctx context.Context, region string) (*bedrockSigner, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return nil, fmt.Errorf("resolve aws credentials: %w", err)
	}
	return &bedrockSigner{
		creds:  cfg.Credentials,
		signer: v4.NewSigner(),
		region: region,
	}, nil
}

// sign computes the payload hash and attaches SigV4 headers in place.
func (s *bedrockSigner) sign(ctx context.Context, req *http.Request, body []byte) error {
	creds, err := s.creds.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("retrieve aws credentials: %w", err)
	}
	sum := sha256.Sum256(body)
	return s.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]),
		"bedrock", s.region, time.Now())
}

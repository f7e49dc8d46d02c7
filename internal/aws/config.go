package aws

import (
	"context"
	"fmt"
	"os"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// defaultRegion is used when AWS_REGION is unset, which is common in local
// RUN_LOCAL development against the default credentials chain.
const defaultRegion = "us-east-1"

// LoadConfig resolves the shared SDK configuration for the engine's service
// clients. Region comes from AWS_REGION with a fallback; everything else
// follows the default chain (env, shared config, instance role).
func LoadConfig(ctx context.Context) (sdkaws.Config, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = defaultRegion
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return sdkaws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"

	"github.com/jacentio/versioned/store"
)

// Environment variables read by NewClient.
const (
	EnvRegion    = "AWS_REGION"
	EnvEndpoint  = "DYNAMODB_ENDPOINT"
	EnvAccessKey = "AWS_ACCESS_KEY"
	EnvSecretKey = "AWS_SECRET_KEY"
)

// NewClient returns a DynamoDB client configured from the environment.
// Variables in envFile are loaded first if the file exists; variables
// already set take precedence. Static credentials are used when both
// AWS_ACCESS_KEY and AWS_SECRET_KEY are set, the default credential chain
// otherwise. DYNAMODB_ENDPOINT points the client at e.g. DynamoDB Local.
func NewClient(ctx context.Context, envFile string) (store.Client, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var opts []func(*config.LoadOptions) error
	if region := os.Getenv(EnvRegion); region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	accessKey, secretKey := os.Getenv(EnvAccessKey), os.Getenv(EnvSecretKey)
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	endpoint := os.Getenv(EnvEndpoint)
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

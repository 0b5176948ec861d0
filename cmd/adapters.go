package cmd

import (
	"context"

	"go.uber.org/zap"

	"cloudfleet/internal/cloud/aws"
	"cloudfleet/internal/cloud/gcp"
	"cloudfleet/internal/config"
	"cloudfleet/internal/logging"
)

func awsCredentials(cfg config.AWSConfig) aws.CredentialSource {
	switch {
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		return aws.StaticKeys(cfg.AccessKeyID, cfg.SecretAccessKey)
	case cfg.Profile != "":
		return aws.Profile(cfg.Profile)
	default:
		return aws.DefaultChain()
	}
}

func newAWSAdapter(ctx context.Context, cfg *config.Config, regions ...string) *aws.Adapter {
	if len(regions) == 0 || regions[0] == "" {
		regions = cfg.AWS.Regions
	}
	adapter, err := aws.New(ctx, regions, awsCredentials(cfg.AWS),
		aws.WithImageFilter(aws.ImageFilter{Owner: cfg.AWS.ImageOwner, NamePattern: cfg.AWS.ImageNameFilter}))
	if err != nil {
		logging.Logger().Fatal("Failed to create AWS adapter", zap.Error(err))
	}
	return adapter
}

func newGCPAdapter(ctx context.Context, cfg *config.Config, projects ...string) *gcp.Adapter {
	if len(projects) == 0 || projects[0] == "" {
		projects = cfg.GCP.Projects
	}
	adapter, err := gcp.New(ctx, projects, cfg.GCP.Zones, gcp.FromFile(cfg.GCP.CredentialsFile),
		gcp.WithWaiter(gcp.Waiter{Interval: cfg.GCP.PollInterval}))
	if err != nil {
		logging.Logger().Fatal("Failed to create GCP adapter", zap.Error(err))
	}
	return adapter
}

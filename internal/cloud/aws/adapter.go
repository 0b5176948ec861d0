// Package aws implements the regional adapter over Amazon EC2.
package aws

import (
	"context"
	"errors"
	"fmt"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cloudfleet/internal/cloud"
	"cloudfleet/internal/logging"
	"cloudfleet/internal/metrics"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "us-east-1"

const nameTagKey = "Name"

// maxLoggedIDs bounds the instance ids written into a single log entry.
const maxLoggedIDs = 10

// EC2API is the subset of the EC2 client the adapter calls.
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
}

var _ cloud.Provider = (*Adapter)(nil)

// Adapter implements cloud.Provider for EC2
type Adapter struct {
	regions   []string
	newClient func(region string) EC2API
	images    ImageFilter
	logger    *zap.Logger
}

// Option customizes an Adapter
type Option func(*Adapter)

// WithClientFactory replaces the SDK client construction, mainly for tests.
func WithClientFactory(f func(region string) EC2API) Option {
	return func(a *Adapter) { a.newClient = f }
}

// WithImageFilter sets the base-image family returned by ListImages.
func WithImageFilter(f ImageFilter) Option {
	return func(a *Adapter) { a.images = f }
}

// WithLogger sets the logger used by the adapter.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// New creates an EC2 adapter for the given regions. The SDK configuration is
// loaded once here and shared by every regional client.
func New(ctx context.Context, regions []string, creds CredentialSource, opts ...Option) (*Adapter, error) {
	if len(regions) == 0 {
		regions = []string{DefaultRegion}
	}
	a := &Adapter{
		regions: append([]string(nil), regions...),
		images:  DefaultImageFilter(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logging.Logger()
	}

	if a.newClient == nil {
		if creds == nil {
			creds = DefaultChain()
		}
		cfg, err := config.LoadDefaultConfig(ctx, creds.LoadOptions()...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		a.newClient = func(region string) EC2API {
			return ec2.NewFromConfig(cfg, func(o *ec2.Options) { o.Region = region })
		}
		a.logger.Debug("AWS adapter ready",
			zap.Strings("regions", a.regions),
			zap.Stringer("credentials", creds))
	}
	return a, nil
}

// Name implements cloud.Provider.
func (a *Adapter) Name() cloud.ProviderName { return cloud.ProviderAWS }

// Regions returns the configured regions.
func (a *Adapter) Regions() []string { return append([]string(nil), a.regions...) }

// ListInstances lists the instances of every configured region.
func (a *Adapter) ListInstances(ctx context.Context) (*cloud.ListReport, error) {
	report := cloud.NewListReport(cloud.ProviderAWS)
	for _, region := range a.regions {
		instances, err := a.listRegion(ctx, region)
		if err != nil {
			a.logger.Warn("failed to list instances",
				zap.String("region", region),
				zap.String("error", logging.Truncate(err.Error())))
		}
		report.Add(cloud.Scope{Location: region}, instances, err)
	}
	return report, report.Err()
}

func (a *Adapter) listRegion(ctx context.Context, region string) ([]cloud.Instance, error) {
	var instances []cloud.Instance
	paginator := ec2.NewDescribeInstancesPaginator(a.newClient(region), &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		a.observe("DescribeInstances", err)
		if err != nil {
			return nil, classify("list instances", region, err)
		}
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				instances = append(instances, normalize(inst, region))
			}
		}
	}
	return instances, nil
}

// CreateInstanceRequest describes an EC2 launch
type CreateInstanceRequest struct {
	Name             string
	Region           string
	InstanceType     string
	ImageID          string
	KeyName          string
	SecurityGroupIDs []string
	SubnetID         string
	// Count defaults to 1
	Count int32
}

// CreateInstance launches Count instances and tags them with Name when it is
// set. EC2 confirms the launch synchronously, so there is nothing to wait on.
// If tagging fails the created ids are returned together with the error.
func (a *Adapter) CreateInstance(ctx context.Context, req CreateInstanceRequest) ([]string, error) {
	if req.Region == "" || req.InstanceType == "" || req.ImageID == "" {
		return nil, fmt.Errorf("region, instance type and image are required")
	}
	count := req.Count
	if count <= 0 {
		count = 1
	}

	input := &ec2.RunInstancesInput{
		ImageId:      awsv2.String(req.ImageID),
		InstanceType: types.InstanceType(req.InstanceType),
		MinCount:     awsv2.Int32(count),
		MaxCount:     awsv2.Int32(count),
		ClientToken:  awsv2.String(uuid.NewString()),
	}
	if req.KeyName != "" {
		input.KeyName = awsv2.String(req.KeyName)
	}
	if len(req.SecurityGroupIDs) > 0 {
		input.SecurityGroupIds = req.SecurityGroupIDs
	}
	if req.SubnetID != "" {
		input.SubnetId = awsv2.String(req.SubnetID)
	}

	client := a.newClient(req.Region)
	output, err := client.RunInstances(ctx, input)
	a.observe("RunInstances", err)
	if err != nil {
		return nil, classify("create instance", req.Region, err)
	}

	ids := make([]string, 0, len(output.Instances))
	for _, inst := range output.Instances {
		ids = append(ids, awsv2.ToString(inst.InstanceId))
	}
	a.logger.Info("instances launched",
		zap.String("region", req.Region),
		zap.Int("count", len(ids)),
		zap.Strings("ids", logging.TruncateSlice(ids, maxLoggedIDs)))

	if req.Name != "" && len(ids) > 0 {
		_, err := client.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: ids,
			Tags:      []types.Tag{{Key: awsv2.String(nameTagKey), Value: awsv2.String(req.Name)}},
		})
		a.observe("CreateTags", err)
		if err != nil {
			return ids, classify("tag instance", req.Region, err)
		}
	}
	return ids, nil
}

// DeleteInstance requests termination and returns once EC2 accepts it.
func (a *Adapter) DeleteInstance(ctx context.Context, id, region string) error {
	_, err := a.newClient(region).TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{id},
	})
	a.observe("TerminateInstances", err)
	if err != nil {
		return classify("delete instance", region, err)
	}
	a.logger.Info("instance termination requested",
		zap.String("id", id),
		zap.String("region", region))
	return nil
}

// GetInstanceDetails returns the raw EC2 record, tags included.
func (a *Adapter) GetInstanceDetails(ctx context.Context, id, region string) (*types.Instance, error) {
	out, err := a.newClient(region).DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	})
	a.observe("DescribeInstances", err)
	if err != nil {
		return nil, classify("get instance", region, err)
	}
	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			if awsv2.ToString(inst.InstanceId) == id {
				return &inst, nil
			}
		}
	}
	return nil, cloud.NewError(cloud.ProviderAWS, "get instance", region, cloud.ErrNotFound,
		fmt.Errorf("instance %s", id))
}

// Tag is an EC2 key/value tag
type Tag struct {
	Key   string
	Value string
}

// ModifyInstance writes the given tags. Existing tags missing from the list
// are left in place; tags with the same key are overwritten.
func (a *Adapter) ModifyInstance(ctx context.Context, id, region string, tags []Tag) error {
	if len(tags) == 0 {
		return nil
	}
	sdkTags := make([]types.Tag, 0, len(tags))
	for _, t := range tags {
		sdkTags = append(sdkTags, types.Tag{Key: awsv2.String(t.Key), Value: awsv2.String(t.Value)})
	}
	_, err := a.newClient(region).CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{id},
		Tags:      sdkTags,
	})
	a.observe("CreateTags", err)
	if err != nil {
		return classify("modify instance", region, err)
	}
	return nil
}

func (a *Adapter) observe(op string, err error) {
	metrics.ObserveCall(string(cloud.ProviderAWS), op, err)
}

func normalize(inst types.Instance, region string) cloud.Instance {
	status := ""
	if inst.State != nil {
		status = string(inst.State.Name)
	}
	return cloud.Instance{
		ID:           awsv2.ToString(inst.InstanceId),
		Name:         NameTag(inst.Tags),
		Provider:     cloud.ProviderAWS,
		Location:     region,
		MachineClass: string(inst.InstanceType),
		Status:       status,
	}
}

// NameTag returns the value of the first tag keyed "Name", or "".
func NameTag(tags []types.Tag) string {
	for _, t := range tags {
		if awsv2.ToString(t.Key) == nameTagKey {
			return awsv2.ToString(t.Value)
		}
	}
	return ""
}

func classify(op, region string, err error) error {
	kind := cloud.ErrVendorRejected
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidInstanceID.NotFound", "InvalidInstanceID.Malformed":
			kind = cloud.ErrNotFound
		}
	}
	return cloud.NewError(cloud.ProviderAWS, op, region, kind, err)
}

package gcp

import (
	"context"

	"google.golang.org/api/compute/v1"
	"google.golang.org/api/serviceusage/v1"
	"google.golang.org/api/storage/v1"
)

// ComputeAPI is the subset of the Compute Engine API the adapter calls.
type ComputeAPI interface {
	ListInstances(ctx context.Context, project, zone string, fn func(*compute.InstanceList) error) error
	GetInstance(ctx context.Context, project, zone, name string) (*compute.Instance, error)
	InsertInstance(ctx context.Context, project, zone string, inst *compute.Instance, requestID string) (*compute.Operation, error)
	DeleteInstance(ctx context.Context, project, zone, name string) (*compute.Operation, error)
	SetLabels(ctx context.Context, project, zone, name string, req *compute.InstancesSetLabelsRequest) (*compute.Operation, error)
	SetMetadata(ctx context.Context, project, zone, name string, md *compute.Metadata) (*compute.Operation, error)
	GetZoneOperation(ctx context.Context, project, zone, name string) (*compute.Operation, error)
}

// ServiceUsageAPI checks and enables services on a project.
type ServiceUsageAPI interface {
	GetService(ctx context.Context, name string) (*serviceusage.GoogleApiServiceusageV1Service, error)
	EnableService(ctx context.Context, name string) (*serviceusage.Operation, error)
	GetOperation(ctx context.Context, name string) (*serviceusage.Operation, error)
}

// StorageAPI is the subset of the Cloud Storage JSON API used for buckets.
type StorageAPI interface {
	ListBuckets(ctx context.Context, project string, fn func(*storage.Buckets) error) error
	InsertBucket(ctx context.Context, project string, bucket *storage.Bucket) (*storage.Bucket, error)
	DeleteBucket(ctx context.Context, name string) error
	ListObjects(ctx context.Context, bucket string, fn func(*storage.Objects) error) error
	DeleteObject(ctx context.Context, bucket, object string, generation int64) error
}

var (
	_ ComputeAPI      = (*computeClient)(nil)
	_ ServiceUsageAPI = (*serviceUsageClient)(nil)
	_ StorageAPI      = (*storageClient)(nil)
)

type computeClient struct {
	*compute.Service
}

func (c *computeClient) ListInstances(ctx context.Context, project, zone string, fn func(*compute.InstanceList) error) error {
	return c.Instances.List(project, zone).Pages(ctx, fn)
}

func (c *computeClient) GetInstance(ctx context.Context, project, zone, name string) (*compute.Instance, error) {
	return c.Instances.Get(project, zone, name).Context(ctx).Do()
}

func (c *computeClient) InsertInstance(ctx context.Context, project, zone string, inst *compute.Instance, requestID string) (*compute.Operation, error) {
	return c.Instances.Insert(project, zone, inst).RequestId(requestID).Context(ctx).Do()
}

func (c *computeClient) DeleteInstance(ctx context.Context, project, zone, name string) (*compute.Operation, error) {
	return c.Instances.Delete(project, zone, name).Context(ctx).Do()
}

func (c *computeClient) SetLabels(ctx context.Context, project, zone, name string, req *compute.InstancesSetLabelsRequest) (*compute.Operation, error) {
	return c.Instances.SetLabels(project, zone, name, req).Context(ctx).Do()
}

func (c *computeClient) SetMetadata(ctx context.Context, project, zone, name string, md *compute.Metadata) (*compute.Operation, error) {
	return c.Instances.SetMetadata(project, zone, name, md).Context(ctx).Do()
}

func (c *computeClient) GetZoneOperation(ctx context.Context, project, zone, name string) (*compute.Operation, error) {
	return c.ZoneOperations.Get(project, zone, name).Context(ctx).Do()
}

type serviceUsageClient struct {
	*serviceusage.Service
}

func (c *serviceUsageClient) GetService(ctx context.Context, name string) (*serviceusage.GoogleApiServiceusageV1Service, error) {
	return c.Services.Get(name).Context(ctx).Do()
}

func (c *serviceUsageClient) EnableService(ctx context.Context, name string) (*serviceusage.Operation, error) {
	return c.Services.Enable(name, &serviceusage.EnableServiceRequest{}).Context(ctx).Do()
}

func (c *serviceUsageClient) GetOperation(ctx context.Context, name string) (*serviceusage.Operation, error) {
	return c.Operations.Get(name).Context(ctx).Do()
}

type storageClient struct {
	*storage.Service
}

func (c *storageClient) ListBuckets(ctx context.Context, project string, fn func(*storage.Buckets) error) error {
	return c.Buckets.List(project).Pages(ctx, fn)
}

func (c *storageClient) InsertBucket(ctx context.Context, project string, bucket *storage.Bucket) (*storage.Bucket, error) {
	return c.Buckets.Insert(project, bucket).Context(ctx).Do()
}

func (c *storageClient) DeleteBucket(ctx context.Context, name string) error {
	return c.Buckets.Delete(name).Context(ctx).Do()
}

func (c *storageClient) ListObjects(ctx context.Context, bucket string, fn func(*storage.Objects) error) error {
	return c.Objects.List(bucket).Versions(true).Pages(ctx, fn)
}

func (c *storageClient) DeleteObject(ctx context.Context, bucket, object string, generation int64) error {
	call := c.Objects.Delete(bucket, object).Context(ctx)
	if generation != 0 {
		call = call.Generation(generation)
	}
	return call.Do()
}

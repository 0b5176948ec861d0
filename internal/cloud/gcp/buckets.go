package gcp

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/storage/v1"
)

// Bucket is a Cloud Storage bucket summary
type Bucket struct {
	Name         string    `json:"name" yaml:"name"`
	Location     string    `json:"location" yaml:"location"`
	StorageClass string    `json:"storage_class" yaml:"storage_class"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

func toBucket(b *storage.Bucket) Bucket {
	created, _ := time.Parse(time.RFC3339, b.TimeCreated)
	return Bucket{
		Name:         b.Name,
		Location:     b.Location,
		StorageClass: b.StorageClass,
		CreatedAt:    created,
	}
}

// ListBuckets lists the buckets of project.
func (a *Adapter) ListBuckets(ctx context.Context, project string) ([]Bucket, error) {
	var buckets []Bucket
	err := a.storage.ListBuckets(ctx, project, func(page *storage.Buckets) error {
		for _, b := range page.Items {
			buckets = append(buckets, toBucket(b))
		}
		return nil
	})
	a.observe("buckets.list", err)
	if err != nil {
		return nil, classify("list buckets", project, err)
	}
	return buckets, nil
}

// CreateBucket creates a bucket in project. An empty location lets Cloud
// Storage pick its default.
func (a *Adapter) CreateBucket(ctx context.Context, project, name, location string) (*Bucket, error) {
	created, err := a.storage.InsertBucket(ctx, project, &storage.Bucket{Name: name, Location: location})
	a.observe("buckets.insert", err)
	if err != nil {
		return nil, classify("create bucket", project, err)
	}
	a.logger.Info("bucket created",
		zap.String("project", project),
		zap.String("bucket", created.Name))
	b := toBucket(created)
	return &b, nil
}

// DeleteBucket deletes an empty bucket.
func (a *Adapter) DeleteBucket(ctx context.Context, name string) error {
	err := a.storage.DeleteBucket(ctx, name)
	a.observe("buckets.delete", err)
	if err != nil {
		return classify("delete bucket", name, err)
	}
	a.logger.Info("bucket deleted", zap.String("bucket", name))
	return nil
}

// ForceDeleteBucket deletes every object in the bucket, all generations
// included, and then the bucket itself. It returns the number of objects
// deleted.
func (a *Adapter) ForceDeleteBucket(ctx context.Context, name string) (int, error) {
	type objectRef struct {
		name       string
		generation int64
	}
	var objects []objectRef
	err := a.storage.ListObjects(ctx, name, func(page *storage.Objects) error {
		for _, obj := range page.Items {
			objects = append(objects, objectRef{name: obj.Name, generation: obj.Generation})
		}
		return nil
	})
	a.observe("objects.list", err)
	if err != nil {
		return 0, classify("list objects", name, err)
	}

	deleted := 0
	for _, obj := range objects {
		err := a.storage.DeleteObject(ctx, name, obj.name, obj.generation)
		a.observe("objects.delete", err)
		if err != nil {
			return deleted, classify("delete object", name, fmt.Errorf("object %s: %w", obj.name, err))
		}
		deleted++
	}
	a.logger.Debug("bucket emptied",
		zap.String("bucket", name),
		zap.Int("objects", deleted))

	if err := a.DeleteBucket(ctx, name); err != nil {
		return deleted, err
	}
	return deleted, nil
}

package gcp

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"cloudfleet/internal/cloud"
)

var _ = Describe("Buckets", func() {
	var (
		ctx     context.Context
		store   *fakeStorage
		adapter *Adapter
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newFakeStorage()
		var err error
		adapter, err = New(ctx, []string{testProject}, nil, nil,
			WithComputeAPI(newFakeCompute()),
			WithServiceUsageAPI(newFakeUsage()),
			WithStorageAPI(store),
			WithLogger(zap.NewNop()))
		Expect(err).NotTo(HaveOccurred())
	})

	It("lists the buckets of a project", func() {
		store.addBucket(testProject, "logs", 0)
		store.addBucket(testProject, "assets", 0)
		store.addBucket("other-project", "foreign", 0)

		buckets, err := adapter.ListBuckets(ctx, testProject)
		Expect(err).NotTo(HaveOccurred())
		Expect(buckets).To(HaveLen(2))
		Expect(buckets[0].Name).To(Equal("assets"))
		Expect(buckets[0].CreatedAt).To(Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
	})

	It("creates a bucket", func() {
		b, err := adapter.CreateBucket(ctx, testProject, "new-bucket", "EU")
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Name).To(Equal("new-bucket"))
		Expect(b.Location).To(Equal("EU"))
		Expect(store.buckets).To(HaveKey("new-bucket"))
	})

	It("refuses to delete a non-empty bucket without force", func() {
		store.addBucket(testProject, "full", 2)

		err := adapter.DeleteBucket(ctx, "full")
		Expect(errors.Is(err, cloud.ErrVendorRejected)).To(BeTrue())
		Expect(store.buckets).To(HaveKey("full"))
	})

	It("deletes every object before deleting the bucket", func() {
		store.pageSize = 2
		store.addBucket(testProject, "full", 5)

		deleted, err := adapter.ForceDeleteBucket(ctx, "full")
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(Equal(5))
		Expect(store.calls).To(HaveLen(6))
		Expect(store.calls[5]).To(Equal("delete-bucket:full"))
		Expect(store.buckets).NotTo(HaveKey("full"))
	})

	It("force deletes an empty bucket", func() {
		store.addBucket(testProject, "empty", 0)

		deleted, err := adapter.ForceDeleteBucket(ctx, "empty")
		Expect(err).NotTo(HaveOccurred())
		Expect(deleted).To(BeZero())
		Expect(store.calls).To(Equal([]string{"delete-bucket:empty"}))
	})

	It("returns not found for a missing bucket", func() {
		_, err := adapter.ForceDeleteBucket(ctx, "ghost")
		Expect(cloud.IsNotFound(err)).To(BeTrue())
	})
})

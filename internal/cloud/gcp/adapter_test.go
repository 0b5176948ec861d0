package gcp

import (
	"context"
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"google.golang.org/api/compute/v1"

	"cloudfleet/internal/cloud"
)

const (
	testProject = "my-project"
	testZone    = "us-central1-a"
)

var _ = Describe("Adapter", func() {
	var (
		ctx     context.Context
		fake    *fakeCompute
		usage   *fakeUsage
		store   *fakeStorage
		adapter *Adapter
	)

	newAdapter := func(projects, zones []string) *Adapter {
		a, err := New(ctx, projects, zones, nil,
			WithComputeAPI(fake),
			WithServiceUsageAPI(usage),
			WithStorageAPI(store),
			WithWaiter(Waiter{Interval: time.Millisecond}),
			WithLogger(zap.NewNop()))
		Expect(err).NotTo(HaveOccurred())
		return a
	}

	BeforeEach(func() {
		ctx = context.Background()
		fake = newFakeCompute()
		usage = newFakeUsage()
		store = newFakeStorage()
		adapter = newAdapter([]string{testProject}, []string{testZone})
	})

	Context("listing instances", func() {
		It("normalizes instances with their project and zone", func() {
			machineType := "https://www.googleapis.com/compute/v1/projects/my-project/zones/us-central1-a/machineTypes/n1-standard-1"
			fake.add(testProject, testZone, &compute.Instance{
				Id: 123456789, Name: "vm-1", MachineType: machineType, Status: "RUNNING", Zone: testZone,
			})

			report, err := adapter.ListInstances(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Instances()).To(ConsistOf(cloud.Instance{
				ID:           "123456789",
				Name:         "vm-1",
				Provider:     cloud.ProviderGCP,
				Location:     testZone,
				MachineClass: machineType,
				Status:       "RUNNING",
				Project:      testProject,
			}))
		})

		It("lists every project and zone pair across pages", func() {
			adapter = newAdapter([]string{"p1", "p2"}, []string{"z1", "z2"})
			fake.pageSize = 1
			fake.add("p1", "z1", &compute.Instance{Id: 1, Name: "a"})
			fake.add("p1", "z1", &compute.Instance{Id: 2, Name: "b"})
			fake.add("p2", "z2", &compute.Instance{Id: 3, Name: "c"})

			report, err := adapter.ListInstances(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Results).To(HaveLen(4))
			Expect(report.Instances()).To(HaveLen(3))
		})

		It("isolates a failing zone from the healthy ones", func() {
			adapter = newAdapter([]string{testProject}, []string{"z1", "z2"})
			fake.add(testProject, "z1", &compute.Instance{Id: 1, Name: "a"})
			fake.listErr[key(testProject, "z2")] = apiError(http.StatusForbidden, "permission denied")

			report, err := adapter.ListInstances(ctx)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, cloud.ErrVendorRejected)).To(BeTrue())
			Expect(report.Instances()).To(HaveLen(1))

			failed := report.Failed()
			Expect(failed).To(HaveLen(1))
			Expect(failed[0].Scope).To(Equal(cloud.Scope{Project: testProject, Location: "z2"}))
		})

		It("reports an empty zone without error", func() {
			report, err := adapter.ListInstances(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Instances()).To(BeEmpty())
		})
	})

	Context("creating instances", func() {
		It("inserts, waits and returns the created instance", func() {
			fake.pollsUntilDone = 2
			inst, err := adapter.CreateInstance(ctx, CreateInstanceRequest{
				Project:     testProject,
				Zone:        testZone,
				Name:        "vm-new",
				MachineType: "e2-medium",
				Labels:      map[string]string{"env": "dev"},
				Metadata:    map[string]string{"startup-script": "echo hi"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(inst).NotTo(BeNil())
			Expect(inst.Name).To(Equal("vm-new"))
			Expect(inst.Id).NotTo(BeZero())
			Expect(inst.MachineType).To(Equal("zones/us-central1-a/machineTypes/e2-medium"))
			Expect(inst.Labels).To(Equal(map[string]string{"env": "dev"}))
			Expect(MetadataMap(inst.Metadata)).To(Equal(map[string]string{"startup-script": "echo hi"}))

			Expect(fake.requestIDs).To(HaveLen(1))
			Expect(fake.requestIDs[0]).NotTo(BeEmpty())
			Expect(fake.polls).To(BeNumerically(">=", 3))
		})

		It("applies the defaults for omitted fields", func() {
			inst, err := adapter.CreateInstance(ctx, CreateInstanceRequest{Project: testProject, Zone: testZone, Name: "vm-defaults"})
			Expect(err).NotTo(HaveOccurred())
			Expect(inst.MachineType).To(Equal("zones/us-central1-a/machineTypes/" + DefaultMachineType))
			Expect(inst.Disks[0].InitializeParams.SourceImage).To(Equal(DefaultSourceImage))
			Expect(inst.NetworkInterfaces[0].Network).To(Equal(DefaultNetwork))
		})

		It("returns no instance when the operation fails", func() {
			fake.failNext = &compute.OperationError{Errors: []*compute.OperationErrorErrors{{
				Code: "QUOTA_EXCEEDED", Message: "Quota 'CPUS' exceeded",
			}}}

			inst, err := adapter.CreateInstance(ctx, CreateInstanceRequest{Project: testProject, Zone: testZone, Name: "vm-quota"})
			Expect(inst).To(BeNil())
			Expect(errors.Is(err, cloud.ErrOperationFailed)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("QUOTA_EXCEEDED"))
			Expect(err.Error()).To(ContainSubstring("instance creation"))
			Expect(fake.get(testProject, testZone, "vm-quota")).To(BeNil())
		})

		It("rejects a request without a name", func() {
			_, err := adapter.CreateInstance(ctx, CreateInstanceRequest{Project: testProject, Zone: testZone})
			Expect(err).To(HaveOccurred())
			Expect(fake.requestIDs).To(BeEmpty())
		})
	})

	Context("deleting instances", func() {
		It("waits until the deletion finished", func() {
			fake.add(testProject, testZone, &compute.Instance{Id: 7, Name: "vm-del"})
			fake.pollsUntilDone = 1

			Expect(adapter.DeleteInstance(ctx, testProject, testZone, "vm-del")).To(Succeed())
			Expect(fake.get(testProject, testZone, "vm-del")).To(BeNil())
			Expect(fake.polls).To(BeNumerically(">=", 1))
		})

		It("classifies a missing instance as not found", func() {
			err := adapter.DeleteInstance(ctx, testProject, testZone, "missing")
			Expect(errors.Is(err, cloud.ErrNotFound)).To(BeTrue())
			Expect(cloud.IsNotFound(err)).To(BeTrue())
		})
	})

	Context("instance details", func() {
		It("returns labels and metadata", func() {
			value := "v"
			fake.add(testProject, testZone, &compute.Instance{
				Id: 9, Name: "vm-d",
				Labels:   map[string]string{"team": "infra"},
				Metadata: &compute.Metadata{Fingerprint: "abc", Items: []*compute.MetadataItems{{Key: "k", Value: &value}}},
			})

			inst, err := adapter.GetInstanceDetails(ctx, testProject, testZone, "vm-d")
			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Labels).To(HaveKeyWithValue("team", "infra"))
			Expect(MetadataMap(inst.Metadata)).To(Equal(map[string]string{"k": "v"}))
		})

		It("returns not found for an unknown instance", func() {
			_, err := adapter.GetInstanceDetails(ctx, testProject, testZone, "nope")
			Expect(errors.Is(err, cloud.ErrNotFound)).To(BeTrue())
		})
	})

	Context("labels", func() {
		BeforeEach(func() {
			fake.add(testProject, testZone, &compute.Instance{
				Id: 11, Name: "vm-l", Labels: map[string]string{"env": "dev", "team": "x"},
			})
		})

		It("replaces the whole label set using the current fingerprint", func() {
			before := fake.get(testProject, testZone, "vm-l").LabelFingerprint

			Expect(adapter.SetInstanceLabels(ctx, testProject, testZone, "vm-l", map[string]string{"env": "prod"})).To(Succeed())

			Expect(fake.labelReqs).To(HaveLen(1))
			Expect(fake.labelReqs[0].LabelFingerprint).To(Equal(before))
			Expect(fake.get(testProject, testZone, "vm-l").Labels).To(Equal(map[string]string{"env": "prod"}))
		})

		It("clears labels with an empty map", func() {
			Expect(adapter.SetInstanceLabels(ctx, testProject, testZone, "vm-l", nil)).To(Succeed())

			Expect(fake.labelReqs[0].Labels).NotTo(BeNil())
			Expect(fake.labelReqs[0].ForceSendFields).To(ContainElement("Labels"))
			Expect(fake.get(testProject, testZone, "vm-l").Labels).To(BeEmpty())
		})

		It("reports a concurrent change as a conflict", func() {
			fake.beforeSetLabels = func() {
				fake.mu.Lock()
				defer fake.mu.Unlock()
				fake.instances[key(testProject, testZone, "vm-l")].LabelFingerprint = "changed-elsewhere"
			}

			err := adapter.SetInstanceLabels(ctx, testProject, testZone, "vm-l", map[string]string{"env": "prod"})
			Expect(errors.Is(err, cloud.ErrConflict)).To(BeTrue())
			Expect(fake.get(testProject, testZone, "vm-l").Labels).To(HaveKeyWithValue("team", "x"))
		})
	})

	Context("metadata", func() {
		It("replaces all items using the current fingerprint", func() {
			old := "old"
			fake.add(testProject, testZone, &compute.Instance{
				Id: 12, Name: "vm-m",
				Metadata: &compute.Metadata{Fingerprint: "fp-meta", Items: []*compute.MetadataItems{{Key: "stale", Value: &old}}},
			})

			err := adapter.SetInstanceMetadata(ctx, testProject, testZone, "vm-m", map[string]string{"b": "2", "a": "1"})
			Expect(err).NotTo(HaveOccurred())

			Expect(fake.mdReqs).To(HaveLen(1))
			Expect(fake.mdReqs[0].Fingerprint).To(Equal("fp-meta"))
			Expect(fake.mdReqs[0].Items[0].Key).To(Equal("a"))
			Expect(MetadataMap(fake.get(testProject, testZone, "vm-m").Metadata)).To(Equal(map[string]string{"a": "1", "b": "2"}))
		})

		It("returns not found for an unknown instance", func() {
			err := adapter.SetInstanceMetadata(ctx, testProject, testZone, "nope", map[string]string{"a": "1"})
			Expect(errors.Is(err, cloud.ErrNotFound)).To(BeTrue())
			Expect(fake.mdReqs).To(BeEmpty())
		})
	})

	Context("waiting on operations", func() {
		It("stops when the context ends", func() {
			fake.add(testProject, testZone, &compute.Instance{Id: 13, Name: "vm-slow"})
			fake.neverFinish = true

			waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()

			err := adapter.DeleteInstance(waitCtx, testProject, testZone, "vm-slow")
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("instance deletion"))
		})

		It("fails instead of waiting when no operation is returned", func() {
			fake.add(testProject, testZone, &compute.Instance{Id: 14, Name: "vm-noop"})
			fake.nilOps = true

			err := adapter.DeleteInstance(ctx, testProject, testZone, "vm-noop")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("no operation returned"))
			Expect(fake.polls).To(BeZero())

			inst, err := adapter.CreateInstance(ctx, CreateInstanceRequest{Project: testProject, Zone: testZone, Name: "vm-nil"})
			Expect(err).To(HaveOccurred())
			Expect(inst).To(BeNil())
		})
	})
})

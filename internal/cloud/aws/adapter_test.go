package aws

import (
	"context"
	"errors"
	"time"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"cloudfleet/internal/cloud"
)

var _ = Describe("Adapter", func() {
	var (
		ctx     context.Context
		clients map[string]*fakeEC2
		adapter *Adapter
	)

	newAdapter := func(regions ...string) *Adapter {
		a, err := New(ctx, regions, nil,
			WithLogger(zap.NewNop()),
			WithClientFactory(func(region string) EC2API {
				if c, ok := clients[region]; ok {
					return c
				}
				c := newFakeEC2()
				clients[region] = c
				return c
			}))
		Expect(err).NotTo(HaveOccurred())
		return a
	}

	BeforeEach(func() {
		ctx = context.Background()
		clients = map[string]*fakeEC2{}
	})

	Context("listing instances", func() {
		It("normalizes every instance of every region", func() {
			clients["us-east-1"] = newFakeEC2(
				instance("i-1234567890abcdef0", "t2.micro", types.InstanceStateNameRunning, tag("Name", "TestInstance")),
			)
			clients["eu-west-1"] = newFakeEC2(
				instance("i-0001", "t3.small", types.InstanceStateNameStopped),
			)
			adapter = newAdapter("us-east-1", "eu-west-1")

			report, err := adapter.ListInstances(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Instances()).To(ConsistOf(
				cloud.Instance{ID: "i-1234567890abcdef0", Name: "TestInstance", Provider: cloud.ProviderAWS,
					Location: "us-east-1", MachineClass: "t2.micro", Status: "running"},
				cloud.Instance{ID: "i-0001", Provider: cloud.ProviderAWS,
					Location: "eu-west-1", MachineClass: "t3.small", Status: "stopped"},
			))
		})

		It("follows pagination", func() {
			fake := newFakeEC2(
				instance("i-1", "t2.micro", types.InstanceStateNameRunning),
				instance("i-2", "t2.micro", types.InstanceStateNameRunning),
				instance("i-3", "t2.micro", types.InstanceStateNameRunning),
			)
			fake.pageSize = 2
			clients["us-east-1"] = fake
			adapter = newAdapter("us-east-1")

			report, err := adapter.ListInstances(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Instances()).To(HaveLen(3))
		})

		It("keeps the results of healthy regions when one region fails", func() {
			clients["us-east-1"] = newFakeEC2(instance("i-1", "t2.micro", types.InstanceStateNameRunning))
			broken := newFakeEC2()
			broken.listErr = &smithy.GenericAPIError{Code: "UnauthorizedOperation", Message: "denied"}
			clients["ap-south-1"] = broken
			adapter = newAdapter("ap-south-1", "us-east-1")

			report, err := adapter.ListInstances(ctx)
			Expect(err).To(MatchError(cloud.ErrVendorRejected))
			Expect(err.Error()).To(ContainSubstring("ap-south-1"))
			Expect(report.Instances()).To(HaveLen(1))
			Expect(report.Failed()).To(HaveLen(1))
			Expect(report.Failed()[0].Scope.Location).To(Equal("ap-south-1"))
		})

		It("defaults to us-east-1", func() {
			adapter = newAdapter()
			Expect(adapter.Regions()).To(Equal([]string{DefaultRegion}))
			Expect(adapter.Name()).To(Equal(cloud.ProviderAWS))
		})
	})

	Context("creating instances", func() {
		BeforeEach(func() {
			adapter = newAdapter("us-east-1")
		})

		It("launches count instances and tags them all with the name", func() {
			ids, err := adapter.CreateInstance(ctx, CreateInstanceRequest{
				Name:             "web",
				Region:           "us-west-2",
				InstanceType:     "t3.micro",
				ImageID:          "ami-123",
				KeyName:          "deploy",
				SecurityGroupIDs: []string{"sg-1"},
				SubnetID:         "subnet-1",
				Count:            2,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(Equal([]string{"i-0001", "i-0002"}))

			fake := clients["us-west-2"]
			Expect(fake.runInputs).To(HaveLen(1))
			in := fake.runInputs[0]
			Expect(awsv2.ToInt32(in.MinCount)).To(Equal(int32(2)))
			Expect(awsv2.ToString(in.KeyName)).To(Equal("deploy"))
			Expect(awsv2.ToString(in.SubnetId)).To(Equal("subnet-1"))
			Expect(awsv2.ToString(in.ClientToken)).NotTo(BeEmpty())

			Expect(fake.tagInputs).To(HaveLen(1))
			Expect(fake.tagInputs[0].Resources).To(Equal(ids))
			Expect(NameTag(fake.tagInputs[0].Tags)).To(Equal("web"))
		})

		It("defaults count to one and skips tagging without a name", func() {
			ids, err := adapter.CreateInstance(ctx, CreateInstanceRequest{
				Region: "us-east-1", InstanceType: "t2.micro", ImageID: "ami-1",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(HaveLen(1))
			Expect(clients["us-east-1"].tagInputs).To(BeEmpty())
		})

		It("returns the created ids when tagging fails", func() {
			fake := newFakeEC2()
			fake.tagErr = errors.New("throttled")
			clients["us-east-1"] = fake

			ids, err := adapter.CreateInstance(ctx, CreateInstanceRequest{
				Name: "web", Region: "us-east-1", InstanceType: "t2.micro", ImageID: "ami-1",
			})
			Expect(err).To(MatchError(cloud.ErrVendorRejected))
			Expect(ids).To(HaveLen(1))
		})

		It("rejects incomplete requests before calling EC2", func() {
			_, err := adapter.CreateInstance(ctx, CreateInstanceRequest{Region: "us-east-1"})
			Expect(err).To(HaveOccurred())
			Expect(clients).NotTo(HaveKey("us-east-1"))
		})
	})

	Context("single-instance operations", func() {
		BeforeEach(func() {
			clients["us-east-1"] = newFakeEC2(
				instance("i-0001", "t2.micro", types.InstanceStateNameRunning, tag("owner", "alice")),
			)
			adapter = newAdapter("us-east-1")
		})

		It("returns the raw record with its tags", func() {
			inst, err := adapter.GetInstanceDetails(ctx, "i-0001", "us-east-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(awsv2.ToString(inst.InstanceId)).To(Equal("i-0001"))
			Expect(inst.Tags).To(ConsistOf(tag("owner", "alice")))
		})

		It("classifies an unknown id as not found", func() {
			_, err := adapter.GetInstanceDetails(ctx, "i-missing", "us-east-1")
			Expect(cloud.IsNotFound(err)).To(BeTrue())

			err = adapter.DeleteInstance(ctx, "i-missing", "us-east-1")
			Expect(cloud.IsNotFound(err)).To(BeTrue())
		})

		It("requests termination without waiting", func() {
			Expect(adapter.DeleteInstance(ctx, "i-0001", "us-east-1")).To(Succeed())
			Expect(clients["us-east-1"].terminated).To(Equal([]string{"i-0001"}))
		})

		It("adds tags without removing existing ones", func() {
			Expect(adapter.ModifyInstance(ctx, "i-0001", "us-east-1", []Tag{{Key: "env", Value: "prod"}})).To(Succeed())

			inst, err := adapter.GetInstanceDetails(ctx, "i-0001", "us-east-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Tags).To(ConsistOf(tag("owner", "alice"), tag("env", "prod")))
		})

		It("overwrites a tag with the same key", func() {
			Expect(adapter.ModifyInstance(ctx, "i-0001", "us-east-1", []Tag{{Key: "owner", Value: "bob"}})).To(Succeed())

			inst, err := adapter.GetInstanceDetails(ctx, "i-0001", "us-east-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Tags).To(ConsistOf(tag("owner", "bob")))
		})

		It("does nothing for an empty tag list", func() {
			Expect(adapter.ModifyInstance(ctx, "i-0001", "us-east-1", nil)).To(Succeed())
			Expect(clients["us-east-1"].tagInputs).To(BeEmpty())
		})
	})

	Context("listing images", func() {
		It("returns the newest image first", func() {
			t1 := "2024-01-01T00:00:00.000Z"
			t2 := "2024-02-01T00:00:00.000Z"
			t3 := "2024-03-01T00:00:00.000Z"
			fake := newFakeEC2()
			fake.images = []types.Image{
				{ImageId: awsv2.String("ami-1"), CreationDate: awsv2.String(t1)},
				{ImageId: awsv2.String("ami-3"), CreationDate: awsv2.String(t3)},
				{ImageId: awsv2.String("ami-2"), CreationDate: awsv2.String(t2)},
			}
			clients["us-east-1"] = fake
			adapter = newAdapter("us-east-1")

			images, err := adapter.ListImages(ctx, "us-east-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(images).To(HaveLen(3))
			Expect([]string{images[0].ID, images[1].ID, images[2].ID}).To(Equal([]string{"ami-3", "ami-2", "ami-1"}))
			Expect(images[0].CreatedAt).To(BeTemporally("==", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
		})
	})
})

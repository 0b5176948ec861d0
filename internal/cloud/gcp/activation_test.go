package gcp

import (
	"context"
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"cloudfleet/internal/cloud"
)

var _ = Describe("EnsureReady", func() {
	const service = "projects/" + testProject + "/services/" + ComputeServiceName

	var (
		ctx     context.Context
		usage   *fakeUsage
		adapter *Adapter
	)

	BeforeEach(func() {
		ctx = context.Background()
		usage = newFakeUsage()
		var err error
		adapter, err = New(ctx, []string{testProject}, nil, nil,
			WithComputeAPI(newFakeCompute()),
			WithServiceUsageAPI(usage),
			WithStorageAPI(newFakeStorage()),
			WithWaiter(Waiter{Interval: time.Millisecond}),
			WithLogger(zap.NewNop()))
		Expect(err).NotTo(HaveOccurred())
	})

	It("does nothing when the API is already enabled", func() {
		usage.states[service] = "ENABLED"

		Expect(adapter.EnsureReady(ctx, testProject)).To(Succeed())
		Expect(usage.enabled).To(BeEmpty())
	})

	It("enables a disabled API and waits for the activation", func() {
		usage.states[service] = "DISABLED"

		Expect(adapter.EnsureReady(ctx, testProject)).To(Succeed())
		Expect(usage.enabled).To(Equal([]string{service}))
		Expect(usage.states[service]).To(Equal("ENABLED"))
	})

	It("tries to enable the API when the state check fails", func() {
		usage.getErr = apiError(http.StatusForbidden, "serviceusage.services.get denied")

		Expect(adapter.EnsureReady(ctx, testProject)).To(Succeed())
		Expect(usage.enabled).To(Equal([]string{service}))
	})

	It("tries to enable the API when the service is unknown", func() {
		Expect(adapter.EnsureReady(ctx, testProject)).To(Succeed())
		Expect(usage.enabled).To(HaveLen(1))
	})

	It("reports a rejected enable request as an activation failure", func() {
		usage.enableErr = apiError(http.StatusForbidden, "billing disabled")

		err := adapter.EnsureReady(ctx, testProject)
		Expect(errors.Is(err, cloud.ErrActivationFailed)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("billing disabled"))
	})

	It("reports a failed activation operation as an activation failure", func() {
		usage.failEnable = true

		err := adapter.EnsureReady(ctx, testProject)
		Expect(errors.Is(err, cloud.ErrActivationFailed)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("api activation"))
	})

	It("reports an enable call without an operation as an activation failure", func() {
		usage.states[service] = "DISABLED"
		usage.nilOp = true

		err := adapter.EnsureReady(ctx, testProject)
		Expect(errors.Is(err, cloud.ErrActivationFailed)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("no operation returned"))
	})

	It("remembers a project once it is ready", func() {
		usage.states[service] = "ENABLED"

		Expect(adapter.EnsureReady(ctx, testProject)).To(Succeed())
		Expect(adapter.EnsureReady(ctx, testProject)).To(Succeed())
		Expect(usage.gets).To(Equal(1))
	})

	It("checks again after a failure", func() {
		usage.enableErr = errors.New("temporary")
		Expect(adapter.EnsureReady(ctx, testProject)).NotTo(Succeed())

		usage.enableErr = nil
		Expect(adapter.EnsureReady(ctx, testProject)).To(Succeed())
		Expect(usage.gets).To(Equal(2))
	})

	It("activates every configured project independently", func() {
		var err error
		adapter, err = New(ctx, []string{"ok", "broken"}, nil, nil,
			WithComputeAPI(newFakeCompute()),
			WithServiceUsageAPI(usage),
			WithStorageAPI(newFakeStorage()),
			WithWaiter(Waiter{Interval: time.Millisecond}),
			WithLogger(zap.NewNop()))
		Expect(err).NotTo(HaveOccurred())
		usage.states["projects/ok/services/"+ComputeServiceName] = "ENABLED"
		usage.failEnable = true

		results, err := adapter.EnsureAllReady(ctx)
		Expect(errors.Is(err, cloud.ErrActivationFailed)).To(BeTrue())
		Expect(results).To(HaveLen(2))
		Expect(results[0]).To(Equal(ActivationResult{Project: "ok"}))
		Expect(results[1].Project).To(Equal("broken"))
		Expect(results[1].Err).To(HaveOccurred())
	})
})

package gcp

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"cloudfleet/internal/cloud"
	"cloudfleet/internal/logging"
)

// ComputeServiceName is the service the adapter needs on every project.
const ComputeServiceName = "compute.googleapis.com"

// ActivationResult is the outcome of EnsureReady for one project.
type ActivationResult struct {
	Project string
	Err     error
}

// EnsureReady makes sure the Compute Engine API is enabled on project,
// enabling it when it is not. A failed status check is treated like a
// disabled service. Successful checks are remembered for the adapter's
// lifetime, so repeated calls are cheap.
func (a *Adapter) EnsureReady(ctx context.Context, project string) error {
	a.mu.Lock()
	ready := a.ready[project]
	a.mu.Unlock()
	if ready {
		return nil
	}

	name := fmt.Sprintf("projects/%s/services/%s", project, ComputeServiceName)
	a.logger.Debug("checking service state",
		zap.String("service", ComputeServiceName),
		zap.String("project", project))

	svc, err := a.usage.GetService(ctx, name)
	a.observe("services.get", err)
	switch {
	case err != nil:
		fields := []zap.Field{
			zap.String("service", ComputeServiceName),
			zap.String("project", project),
			zap.String("error", logging.Truncate(err.Error())),
		}
		if isNotFound(err) {
			a.logger.Warn("service not found, trying to enable it", fields...)
		} else {
			a.logger.Warn("could not get service state, trying to enable it", fields...)
		}
	case svc.State == "ENABLED":
		a.logger.Debug("service already enabled",
			zap.String("service", ComputeServiceName),
			zap.String("project", project))
		a.markReady(project)
		return nil
	default:
		a.logger.Debug("service not enabled, enabling",
			zap.String("service", ComputeServiceName),
			zap.String("project", project),
			zap.String("state", svc.State))
	}

	if err := a.enableService(ctx, name); err != nil {
		return cloud.NewError(cloud.ProviderGCP, "enable api", project, cloud.ErrActivationFailed, err)
	}
	a.logger.Info("service enabled",
		zap.String("service", ComputeServiceName),
		zap.String("project", project))
	a.markReady(project)
	return nil
}

func (a *Adapter) enableService(ctx context.Context, name string) error {
	op, err := a.usage.EnableService(ctx, name)
	a.observe("services.enable", err)
	if err != nil {
		return err
	}
	if op == nil {
		return fmt.Errorf("api activation: no operation returned")
	}
	current := op
	return a.waiter.Wait(ctx, "api activation", func(ctx context.Context) (OperationStatus, error) {
		if current == nil {
			latest, err := a.usage.GetOperation(ctx, op.Name)
			a.observe("operations.get", err)
			if err != nil {
				return OperationStatus{}, err
			}
			current = latest
		}
		status := serviceOperationStatus(current, "api activation")
		current = nil
		return status, nil
	})
}

func (a *Adapter) markReady(project string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ready[project] = true
}

// EnsureAllReady runs EnsureReady for every configured project. Each project
// is attempted even if an earlier one fails.
func (a *Adapter) EnsureAllReady(ctx context.Context) ([]ActivationResult, error) {
	results := make([]ActivationResult, 0, len(a.projects))
	var errs error
	for _, project := range a.projects {
		err := a.EnsureReady(ctx, project)
		results = append(results, ActivationResult{Project: project, Err: err})
		errs = multierr.Append(errs, err)
	}
	return results, errs
}

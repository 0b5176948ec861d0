// Package inventory lists instances across providers and keeps snapshots of
// the result.
package inventory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"cloudfleet/internal/cloud"
	"cloudfleet/internal/logging"
	"cloudfleet/internal/metrics"
)

// Failure records a scope that could not be listed.
type Failure struct {
	Provider cloud.ProviderName `json:"provider" yaml:"provider"`
	Scope    string             `json:"scope" yaml:"scope"`
	Error    string             `json:"error" yaml:"error"`
}

// Snapshot is the combined result of one inventory run
type Snapshot struct {
	ID        string           `json:"id" yaml:"id"`
	TakenAt   time.Time        `json:"taken_at" yaml:"taken_at"`
	Instances []cloud.Instance `json:"instances" yaml:"instances"`
	Failures  []Failure        `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Collect runs ListInstances on every provider, at most concurrency at a
// time. The snapshot holds everything that could be listed; the error
// combines the failures of all providers.
func Collect(ctx context.Context, providers []cloud.Provider, concurrency int) (*Snapshot, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	reports := make([]*cloud.ListReport, len(providers))
	errs := make([]error, len(providers))

	pool := pond.NewPool(min(concurrency, max(len(providers), 1)))
	for i, p := range providers {
		pool.Submit(func() {
			logging.Logger().Debug("listing instances", zap.String("provider", string(p.Name())))
			report, err := p.ListInstances(ctx)
			if report == nil {
				report = cloud.NewListReport(p.Name())
				if err != nil {
					report.Add(cloud.Scope{}, nil, err)
				}
			}
			reports[i] = report
			errs[i] = err
		})
	}
	pool.StopAndWait()

	snap := &Snapshot{
		ID:      uuid.NewString(),
		TakenAt: time.Now().UTC(),
	}
	for _, report := range reports {
		snap.Instances = append(snap.Instances, report.Instances()...)
		for _, failed := range report.Failed() {
			snap.Failures = append(snap.Failures, Failure{
				Provider: report.Provider,
				Scope:    failed.Scope.String(),
				Error:    failed.Err.Error(),
			})
		}
	}
	sortInstances(snap.Instances)

	err := multierr.Combine(errs...)
	if err != nil {
		logging.Logger().Warn("inventory incomplete",
			zap.Int("instances", len(snap.Instances)),
			zap.Int("failed_scopes", len(snap.Failures)))
	}
	return snap, err
}

func sortInstances(instances []cloud.Instance) {
	slices.SortStableFunc(instances, func(a, b cloud.Instance) int {
		return cmp.Or(
			cmp.Compare(a.Provider, b.Provider),
			cmp.Compare(a.Project, b.Project),
			cmp.Compare(a.Location, b.Location),
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(a.ID, b.ID),
		)
	})
}

// Counts groups the snapshot's instances by provider, location and status.
func (s *Snapshot) Counts() []metrics.InstanceCount {
	index := make(map[metrics.InstanceCount]int)
	for _, inst := range s.Instances {
		key := metrics.InstanceCount{Provider: string(inst.Provider), Location: inst.Location, Status: inst.Status}
		index[key]++
	}
	counts := make([]metrics.InstanceCount, 0, len(index))
	for key, n := range index {
		key.Count = n
		counts = append(counts, key)
	}
	slices.SortFunc(counts, func(a, b metrics.InstanceCount) int {
		return cmp.Or(
			cmp.Compare(a.Provider, b.Provider),
			cmp.Compare(a.Location, b.Location),
			cmp.Compare(a.Status, b.Status),
		)
	})
	return counts
}

// FailedScopes returns the number of failed scopes per provider.
func (s *Snapshot) FailedScopes() map[string]int {
	out := make(map[string]int)
	for _, f := range s.Failures {
		out[string(f.Provider)]++
	}
	return out
}

// Publish exports the snapshot as inventory gauges.
func Publish(s *Snapshot) {
	metrics.SetInventory(s.Counts(), s.FailedScopes())
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("<Snapshot id=%s instances=%d failures=%d>", s.ID, len(s.Instances), len(s.Failures))
}

package cloud

import (
	"context"

	"go.uber.org/multierr"
)

// Provider is the capability every adapter offers. Create, delete and
// mutation live on the concrete adapters because their parameters differ
// between vendors.
type Provider interface {
	Name() ProviderName
	// ListInstances visits every configured scope, even after a scope fails.
	// The report is never nil; the error combines all scope errors.
	ListInstances(ctx context.Context) (*ListReport, error)
}

// ScopeResult is the outcome of listing a single scope.
type ScopeResult struct {
	Scope     Scope      `json:"scope" yaml:"scope"`
	Instances []Instance `json:"instances" yaml:"instances"`
	Err       error      `json:"-" yaml:"-"`
}

// ListReport collects the per-scope results of one ListInstances call.
type ListReport struct {
	Provider ProviderName
	Results  []ScopeResult
}

// NewListReport returns an empty report for the given provider.
func NewListReport(p ProviderName) *ListReport {
	return &ListReport{Provider: p}
}

// Add records the outcome of one scope.
func (r *ListReport) Add(scope Scope, instances []Instance, err error) {
	r.Results = append(r.Results, ScopeResult{Scope: scope, Instances: instances, Err: err})
}

// Instances flattens the instances of all successful scopes.
func (r *ListReport) Instances() []Instance {
	var out []Instance
	for _, res := range r.Results {
		out = append(out, res.Instances...)
	}
	return out
}

// Failed returns the scopes that could not be listed.
func (r *ListReport) Failed() []ScopeResult {
	var out []ScopeResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Err combines the errors of every failed scope, or returns nil.
func (r *ListReport) Err() error {
	var err error
	for _, res := range r.Results {
		err = multierr.Append(err, res.Err)
	}
	return err
}

// Package cloud holds the provider-agnostic instance model shared by the
// vendor adapters.
package cloud

import "fmt"

// ProviderName identifies the adapter an Instance was normalized by.
type ProviderName string

const (
	ProviderAWS ProviderName = "aws"
	ProviderGCP ProviderName = "gcp"
)

// Instance is a point-in-time snapshot of a virtual machine.
// Values are never updated after they are returned.
type Instance struct {
	ID       string       `json:"id" yaml:"id"`
	Name     string       `json:"name,omitempty" yaml:"name,omitempty"` // empty when the vendor has no name for it
	Provider ProviderName `json:"provider" yaml:"provider"`
	// Location is the region for EC2 and the zone for GCE.
	Location string `json:"location" yaml:"location"`
	// MachineClass is the vendor's instance type, or the full machine type URL for GCE.
	MachineClass string `json:"machine_class" yaml:"machine_class"`
	// Status is the vendor's literal state string, e.g. "running" or "RUNNING".
	Status string `json:"status" yaml:"status"`
	// Project is set for project-scoped vendors only.
	Project string `json:"project,omitempty" yaml:"project,omitempty"`
}

func (i Instance) String() string {
	return fmt.Sprintf("<Instance provider=%s id=%s name=%s location=%s type=%s status=%s>",
		i.Provider, i.ID, i.Name, i.Location, i.MachineClass, i.Status)
}

// Scope is the addressing context of one list call: a region, or a project and zone.
type Scope struct {
	Project  string `json:"project,omitempty" yaml:"project,omitempty"`
	Location string `json:"location" yaml:"location"`
}

func (s Scope) String() string {
	if s.Project == "" {
		return s.Location
	}
	return s.Project + "/" + s.Location
}

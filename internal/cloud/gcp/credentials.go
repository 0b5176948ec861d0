package gcp

import (
	"google.golang.org/api/compute/v1"
	"google.golang.org/api/option"
)

// Credentials selects how the adapter authenticates. The caller picks one
// explicitly; the adapter never looks for credentials on its own.
type Credentials interface {
	ClientOptions() []option.ClientOption
	String() string
}

type serviceAccountFile string

// ServiceAccountFile authenticates with a service account key file.
func ServiceAccountFile(path string) Credentials { return serviceAccountFile(path) }

func (s serviceAccountFile) ClientOptions() []option.ClientOption {
	return []option.ClientOption{option.WithAuthCredentialsFile(option.ServiceAccount, string(s))}
}
func (s serviceAccountFile) String() string { return "service-account:" + string(s) }

type applicationDefault struct{}

// ApplicationDefault uses Application Default Credentials with the cloud-platform scope.
func ApplicationDefault() Credentials { return applicationDefault{} }

func (applicationDefault) ClientOptions() []option.ClientOption {
	return []option.ClientOption{option.WithScopes(compute.CloudPlatformScope)}
}
func (applicationDefault) String() string { return "application-default" }

// FromFile returns ServiceAccountFile for a non-empty path and ApplicationDefault otherwise.
func FromFile(path string) Credentials {
	if path == "" {
		return ApplicationDefault()
	}
	return ServiceAccountFile(path)
}

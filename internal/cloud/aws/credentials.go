package aws

import (
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// CredentialSource selects how the adapter authenticates. It is resolved
// once, when the adapter is built.
type CredentialSource interface {
	LoadOptions() []func(*config.LoadOptions) error
	String() string
}

type defaultChain struct{}

// DefaultChain uses the SDK's default chain: environment, shared config, instance role.
func DefaultChain() CredentialSource { return defaultChain{} }

func (defaultChain) LoadOptions() []func(*config.LoadOptions) error { return nil }
func (defaultChain) String() string                                 { return "default" }

type profile string

// Profile uses a named profile from the shared config files.
func Profile(name string) CredentialSource { return profile(name) }

func (p profile) LoadOptions() []func(*config.LoadOptions) error {
	return []func(*config.LoadOptions) error{config.WithSharedConfigProfile(string(p))}
}
func (p profile) String() string { return "profile:" + string(p) }

type staticKeys struct {
	accessKey, secretKey string
}

// StaticKeys uses a fixed access key pair.
func StaticKeys(accessKey, secretKey string) CredentialSource {
	return staticKeys{accessKey: accessKey, secretKey: secretKey}
}

func (s staticKeys) LoadOptions() []func(*config.LoadOptions) error {
	return []func(*config.LoadOptions) error{
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s.accessKey, s.secretKey, "")),
	}
}
func (s staticKeys) String() string { return "static" }

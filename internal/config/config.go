package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultPath is used when neither --config nor CONFIG_PATH is set.
const DefaultPath = "cloudfleet.yaml"

// Config contains application configuration
type Config struct {
	AWS       AWSConfig       `yaml:"aws"`
	GCP       GCPConfig       `yaml:"gcp"`
	Inventory InventoryConfig `yaml:"inventory"`
}

// AWSConfig configures the EC2 adapter
type AWSConfig struct {
	// Shared-config profile; empty uses the default credential chain
	Profile string `yaml:"profile"`

	// Static keys take precedence over the profile when both are set
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	Regions []string `yaml:"regions"`

	// Base image family offered by "aws images"
	ImageOwner      string `yaml:"image_owner"`
	ImageNameFilter string `yaml:"image_name_filter"`

	// Defaults for "aws create"
	DefaultInstanceType string `yaml:"default_instance_type"`
}

// GCPConfig configures the Compute Engine adapter
type GCPConfig struct {
	// Service account key file; empty uses application default credentials
	CredentialsFile string `yaml:"credentials_file"`

	Projects []string `yaml:"projects"`
	Zones    []string `yaml:"zones"`

	// Interval between polls of a long-running operation
	PollInterval time.Duration `yaml:"poll_interval"`

	// Defaults for "gcp create"
	DefaultMachineType string `yaml:"default_machine_type"`
	DefaultImage       string `yaml:"default_image"`
	DefaultNetwork     string `yaml:"default_network"`
}

// InventoryConfig configures cross-provider listing and snapshots
type InventoryConfig struct {
	Concurrency   int      `yaml:"concurrency"`
	StateFile     string   `yaml:"state_file"`
	EtcdEndpoints []string `yaml:"etcd_endpoints"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		AWS: AWSConfig{
			Regions:             []string{"us-east-1"},
			ImageOwner:          "amazon",
			ImageNameFilter:     "al2023-ami-2023.*-x86_64",
			DefaultInstanceType: "t2.micro",
		},
		GCP: GCPConfig{
			Zones:              []string{"us-central1-a"},
			PollInterval:       2 * time.Second,
			DefaultMachineType: "n1-standard-1",
			DefaultImage:       "projects/debian-cloud/global/images/family/debian-11",
			DefaultNetwork:     "global/networks/default",
		},
		Inventory: InventoryConfig{
			Concurrency: 2,
			StateFile:   "cloudfleet-state.json",
		},
	}
}

// Path resolves the config file location: explicit flag, CONFIG_PATH, then DefaultPath.
func Path(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Expand environment variables in string fields
	config.AWS.Profile = os.ExpandEnv(config.AWS.Profile)
	config.AWS.AccessKeyID = os.ExpandEnv(config.AWS.AccessKeyID)
	config.AWS.SecretAccessKey = os.ExpandEnv(config.AWS.SecretAccessKey)
	config.GCP.CredentialsFile = os.ExpandEnv(config.GCP.CredentialsFile)
	config.Inventory.StateFile = os.ExpandEnv(config.Inventory.StateFile)
	expandAll(config.AWS.Regions)
	expandAll(config.GCP.Projects)
	expandAll(config.GCP.Zones)

	// Override with environment variables if set
	if id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"); id != "" && secret != "" {
		config.AWS.AccessKeyID = id
		config.AWS.SecretAccessKey = secret
	}
	if creds := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); creds != "" {
		config.GCP.CredentialsFile = creds
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the parameters every command relies on
func (c *Config) Validate() error {
	if len(c.AWS.Regions) == 0 {
		return fmt.Errorf("aws.regions must not be empty")
	}
	if len(c.GCP.Zones) == 0 {
		return fmt.Errorf("gcp.zones must not be empty")
	}
	if (c.AWS.AccessKeyID == "") != (c.AWS.SecretAccessKey == "") {
		return fmt.Errorf("aws.access_key_id and aws.secret_access_key must be set together")
	}
	if c.GCP.PollInterval <= 0 {
		return fmt.Errorf("gcp.poll_interval must be positive")
	}
	if c.Inventory.Concurrency < 1 {
		return fmt.Errorf("inventory.concurrency must be at least 1")
	}
	return nil
}

func expandAll(values []string) {
	for i, v := range values {
		values[i] = os.ExpandEnv(v)
	}
}

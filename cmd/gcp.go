package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cloudfleet/internal/cloud/gcp"
	"cloudfleet/internal/config"
	"cloudfleet/internal/logging"
	"cloudfleet/internal/sshkey"
)

var (
	gcpProject string
	gcpZone    string

	gcpMachineType        string
	gcpImage              string
	gcpDiskSize           int64
	gcpNetwork            string
	gcpSubnetwork         string
	gcpInternalIP         string
	gcpExternal           bool
	gcpExternalIP         string
	gcpAccelerators       []string
	gcpPreemptible        bool
	gcpSpot               bool
	gcpTerminationAction  string
	gcpHostname           string
	gcpDeletionProtection bool
	gcpLabels             []string
	gcpMetadata           []string
	gcpSSHUser            string
	gcpSSHKeyDir          string
)

var gcpCmd = &cobra.Command{
	Use:   "gcp",
	Short: "Manage Compute Engine instances and Cloud Storage buckets",
}

var gcpEnableAPICmd = &cobra.Command{
	Use:   "enable-api",
	Short: "Enable the Compute Engine API on the configured projects",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx, cancel := commandContext()
		defer cancel()

		adapter := newGCPAdapter(ctx, cfg, gcpProject)
		results, err := adapter.EnsureAllReady(ctx)
		for _, r := range results {
			status := "ready"
			if r.Err != nil {
				status = "failed: " + r.Err.Error()
			}
			fmt.Printf("%s\t%s\n", r.Project, status)
		}
		if err != nil {
			logging.Logger().Fatal("API activation failed", zap.Error(err))
		}
	},
}

var gcpCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a Compute Engine instance and wait until it exists",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		labels, err := parseKeyValues(gcpLabels)
		if err != nil {
			logging.Logger().Fatal("Invalid --label", zap.Error(err))
		}
		metadata, err := parseKeyValues(gcpMetadata)
		if err != nil {
			logging.Logger().Fatal("Invalid --metadata", zap.Error(err))
		}
		accelerators, err := parseAccelerators(gcpAccelerators)
		if err != nil {
			logging.Logger().Fatal("Invalid --accelerator", zap.Error(err))
		}

		cfg := loadConfig()
		ctx, cancel := commandContext()
		defer cancel()

		if gcpSSHUser != "" {
			kp, err := sshkey.GetOrGenerate(gcpSSHKeyDir)
			if err != nil {
				logging.Logger().Fatal("Failed to prepare SSH key", zap.Error(err))
			}
			metadata[sshkey.MetadataKey] = kp.MetadataValue(gcpSSHUser)
			logging.Logger().Info("injecting SSH key", zap.String("user", gcpSSHUser), zap.String("private_key", kp.PrivateKeyPath))
		}

		project, zone := gcpTarget(cfg)
		adapter := newGCPAdapter(ctx, cfg, project)
		ensureReady(ctx, adapter, project)

		inst, err := adapter.CreateInstance(ctx, gcp.CreateInstanceRequest{
			Project:            project,
			Zone:               zone,
			Name:               args[0],
			MachineType:        orDefault(gcpMachineType, cfg.GCP.DefaultMachineType),
			SourceImage:        orDefault(gcpImage, cfg.GCP.DefaultImage),
			DiskSizeGb:         gcpDiskSize,
			Network:            orDefault(gcpNetwork, cfg.GCP.DefaultNetwork),
			Subnetwork:         gcpSubnetwork,
			InternalIP:         gcpInternalIP,
			ExternalAccess:     gcpExternal || gcpExternalIP != "",
			ExternalIPv4:       gcpExternalIP,
			Accelerators:       accelerators,
			Preemptible:        gcpPreemptible,
			Spot:               gcpSpot,
			TerminationAction:  gcpTerminationAction,
			Hostname:           gcpHostname,
			DeletionProtection: gcpDeletionProtection,
			Labels:             labels,
			Metadata:           metadata,
		})
		if err != nil {
			logging.Logger().Fatal("Failed to create instance", zap.Error(err))
		}
		if err := printJSON(os.Stdout, inst); err != nil {
			logging.Logger().Fatal("Failed to print instance", zap.Error(err))
		}
	},
}

var gcpDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a Compute Engine instance and wait until it is gone",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx, cancel := commandContext()
		defer cancel()

		project, zone := gcpTarget(cfg)
		adapter := newGCPAdapter(ctx, cfg, project)
		ensureReady(ctx, adapter, project)
		if err := adapter.DeleteInstance(ctx, project, zone, args[0]); err != nil {
			logging.Logger().Fatal("Failed to delete instance", zap.Error(err))
		}
	},
}

var gcpDescribeCmd = &cobra.Command{
	Use:   "describe <name>",
	Short: "Print the full Compute Engine record of an instance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx, cancel := commandContext()
		defer cancel()

		project, zone := gcpTarget(cfg)
		inst, err := newGCPAdapter(ctx, cfg, project).GetInstanceDetails(ctx, project, zone, args[0])
		if err != nil {
			logging.Logger().Fatal("Failed to describe instance", zap.Error(err))
		}
		if err := printJSON(os.Stdout, inst); err != nil {
			logging.Logger().Fatal("Failed to print instance", zap.Error(err))
		}
	},
}

var gcpLabelsCmd = &cobra.Command{
	Use:   "labels <name>",
	Short: "Replace all labels of an instance",
	Long:  `Replace the label set of an instance with the --label pairs. Labels not named are removed; no --label clears them all.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		labels, err := parseKeyValues(gcpLabels)
		if err != nil {
			logging.Logger().Fatal("Invalid --label", zap.Error(err))
		}

		cfg := loadConfig()
		ctx, cancel := commandContext()
		defer cancel()

		project, zone := gcpTarget(cfg)
		adapter := newGCPAdapter(ctx, cfg, project)
		ensureReady(ctx, adapter, project)
		if err := adapter.SetInstanceLabels(ctx, project, zone, args[0], labels); err != nil {
			logging.Logger().Fatal("Failed to set labels", zap.Error(err))
		}
	},
}

var gcpMetadataCmd = &cobra.Command{
	Use:   "metadata <name>",
	Short: "Replace all metadata items of an instance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		items, err := parseKeyValues(gcpMetadata)
		if err != nil {
			logging.Logger().Fatal("Invalid --item", zap.Error(err))
		}

		cfg := loadConfig()
		ctx, cancel := commandContext()
		defer cancel()

		project, zone := gcpTarget(cfg)
		adapter := newGCPAdapter(ctx, cfg, project)
		ensureReady(ctx, adapter, project)
		if err := adapter.SetInstanceMetadata(ctx, project, zone, args[0], items); err != nil {
			logging.Logger().Fatal("Failed to set metadata", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(gcpCmd)
	gcpCmd.AddCommand(gcpEnableAPICmd, gcpCreateCmd, gcpDeleteCmd, gcpDescribeCmd, gcpLabelsCmd, gcpMetadataCmd)

	gcpCmd.PersistentFlags().StringVar(&gcpProject, "project", "", "Project (default: first configured project)")
	gcpCmd.PersistentFlags().StringVar(&gcpZone, "zone", "", "Zone (default: first configured zone)")

	f := gcpCreateCmd.Flags()
	f.StringVar(&gcpMachineType, "machine-type", "", "Machine type, short or zones/<zone>/machineTypes/<type>")
	f.StringVar(&gcpImage, "image", "", "Source image of the boot disk")
	f.Int64Var(&gcpDiskSize, "disk-size", 0, "Boot disk size in GB (default: image size)")
	f.StringVar(&gcpNetwork, "network", "", "Network")
	f.StringVar(&gcpSubnetwork, "subnet", "", "Subnetwork")
	f.StringVar(&gcpInternalIP, "internal-ip", "", "Static internal IP")
	f.BoolVar(&gcpExternal, "external", false, "Attach an external IPv4 address")
	f.StringVar(&gcpExternalIP, "external-ip", "", "Reserved external IPv4 address, implies --external")
	f.StringArrayVar(&gcpAccelerators, "accelerator", nil, "Accelerator as type:count, repeatable")
	f.BoolVar(&gcpPreemptible, "preemptible", false, "Create a preemptible instance")
	f.BoolVar(&gcpSpot, "spot", false, "Create a Spot instance")
	f.StringVar(&gcpTerminationAction, "termination-action", "", "Spot termination action (STOP or DELETE)")
	f.StringVar(&gcpHostname, "hostname", "", "Custom hostname")
	f.BoolVar(&gcpDeletionProtection, "deletion-protection", false, "Protect the instance from deletion")
	f.StringArrayVar(&gcpLabels, "label", nil, "Label as key=value, repeatable")
	f.StringArrayVar(&gcpMetadata, "metadata", nil, "Metadata item as key=value, repeatable")
	f.StringVar(&gcpSSHUser, "ssh-user", "", "Add the local cloudfleet key to ssh-keys for this user")
	f.StringVar(&gcpSSHKeyDir, "ssh-key-dir", ".ssh", "Directory holding the cloudfleet key pair")

	gcpLabelsCmd.Flags().StringArrayVar(&gcpLabels, "label", nil, "Label as key=value, repeatable")
	gcpMetadataCmd.Flags().StringArrayVar(&gcpMetadata, "item", nil, "Metadata item as key=value, repeatable")
}

func gcpTarget(cfg *config.Config) (project, zone string) {
	project = gcpProject
	if project == "" {
		if len(cfg.GCP.Projects) == 0 {
			logging.Logger().Fatal("No project given and none configured")
		}
		project = cfg.GCP.Projects[0]
	}
	zone = gcpZone
	if zone == "" {
		zone = gcp.DefaultZone
		if len(cfg.GCP.Zones) > 0 {
			zone = cfg.GCP.Zones[0]
		}
	}
	return project, zone
}

func ensureReady(ctx context.Context, adapter *gcp.Adapter, project string) {
	if err := adapter.EnsureReady(ctx, project); err != nil {
		logging.Logger().Fatal("Compute Engine API is not available", zap.String("project", project), zap.Error(err))
	}
}

// parseAccelerators parses type:count pairs. A missing count means one.
func parseAccelerators(values []string) ([]gcp.Accelerator, error) {
	out := make([]gcp.Accelerator, 0, len(values))
	for _, v := range values {
		typ, count, found := strings.Cut(v, ":")
		if typ == "" {
			return nil, fmt.Errorf("invalid accelerator %q", v)
		}
		acc := gcp.Accelerator{Type: typ, Count: 1}
		if found {
			n, err := strconv.ParseInt(count, 10, 64)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid accelerator count in %q", v)
			}
			acc.Count = n
		}
		out = append(out, acc)
	}
	return out, nil
}

func orDefault(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

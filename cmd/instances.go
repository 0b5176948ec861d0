package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cloudfleet/internal/cloud"
	"cloudfleet/internal/inventory"
	"cloudfleet/internal/logging"
)

var (
	listProvider string
	listOutput   string
	listSave     bool
)

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "Work with instances across providers",
}

// instancesListCmd represents the instances list command
var instancesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances of every configured provider",
	Long: `List the instances of every configured region and project/zone pair.
A scope that cannot be listed is reported as a warning; the instances of the
other scopes are still printed.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx, cancel := commandContext()
		defer cancel()

		var providers []cloud.Provider
		if listProvider == "all" || listProvider == string(cloud.ProviderAWS) {
			providers = append(providers, newAWSAdapter(ctx, cfg))
		}
		if listProvider == "all" || listProvider == string(cloud.ProviderGCP) {
			if len(cfg.GCP.Projects) == 0 {
				logging.Logger().Warn("no GCP projects configured, skipping GCP")
			} else {
				providers = append(providers, newGCPAdapter(ctx, cfg))
			}
		}
		if len(providers) == 0 {
			logging.Logger().Fatal("Nothing to list", zap.String("provider", listProvider))
		}

		snap, err := inventory.Collect(ctx, providers, cfg.Inventory.Concurrency)
		if err != nil {
			logging.Logger().Debug("some scopes failed", zap.Error(err))
		}

		if err := inventory.Render(os.Stdout, listOutput, snap.Instances); err != nil {
			logging.Logger().Fatal("Failed to render instances", zap.Error(err))
		}
		inventory.RenderFailures(os.Stderr, snap.Failures)

		if listSave {
			saveSnapshot(ctx, cfg.Inventory.StateFile, cfg.Inventory.EtcdEndpoints, snap)
		}
	},
}

func init() {
	rootCmd.AddCommand(instancesCmd)
	instancesCmd.AddCommand(instancesListCmd)

	instancesListCmd.Flags().StringVar(&listProvider, "provider", "all", "Provider to list (aws, gcp, all)")
	instancesListCmd.Flags().StringVarP(&listOutput, "output", "o", inventory.FormatTable, "Output format (table, yaml, json)")
	instancesListCmd.Flags().BoolVar(&listSave, "save", false, "Save the result as the latest inventory snapshot")
}

package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cloudfleet/internal/logging"
)

var (
	bucketLocation string
	bucketForce    bool
)

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "Manage Cloud Storage buckets",
}

var bucketsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the buckets of a project",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx, cancel := commandContext()
		defer cancel()

		project, _ := gcpTarget(cfg)
		buckets, err := newGCPAdapter(ctx, cfg, project).ListBuckets(ctx, project)
		if err != nil {
			logging.Logger().Fatal("Failed to list buckets", zap.Error(err))
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tLOCATION\tCLASS\tCREATED")
		for _, b := range buckets {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.Name, b.Location, b.StorageClass, b.CreatedAt.Format("2006-01-02"))
		}
		tw.Flush()
	},
}

var bucketsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a bucket",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx, cancel := commandContext()
		defer cancel()

		project, _ := gcpTarget(cfg)
		b, err := newGCPAdapter(ctx, cfg, project).CreateBucket(ctx, project, args[0], bucketLocation)
		if err != nil {
			logging.Logger().Fatal("Failed to create bucket", zap.Error(err))
		}
		fmt.Printf("%s\t%s\n", b.Name, b.Location)
	},
}

var bucketsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a bucket",
	Long:  `Delete a bucket. With --force every object, older generations included, is deleted first.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx, cancel := commandContext()
		defer cancel()

		project, _ := gcpTarget(cfg)
		adapter := newGCPAdapter(ctx, cfg, project)
		if !bucketForce {
			if err := adapter.DeleteBucket(ctx, args[0]); err != nil {
				logging.Logger().Fatal("Failed to delete bucket", zap.Error(err))
			}
			return
		}
		deleted, err := adapter.ForceDeleteBucket(ctx, args[0])
		if err != nil {
			logging.Logger().Fatal("Failed to delete bucket", zap.Int("objects_deleted", deleted), zap.Error(err))
		}
		fmt.Printf("deleted %s and %d objects\n", args[0], deleted)
	},
}

func init() {
	gcpCmd.AddCommand(bucketsCmd)
	bucketsCmd.AddCommand(bucketsListCmd, bucketsCreateCmd, bucketsDeleteCmd)

	bucketsCreateCmd.Flags().StringVar(&bucketLocation, "location", "", "Bucket location (default: US)")
	bucketsDeleteCmd.Flags().BoolVar(&bucketForce, "force", false, "Delete all objects first")
}

package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cloudfleet/internal/cloud/aws"
	"cloudfleet/internal/logging"
)

var (
	awsRegion         string
	awsName           string
	awsInstanceType   string
	awsImageID        string
	awsKeyName        string
	awsSecurityGroups []string
	awsSubnetID       string
	awsCount          int32
	awsTags           []string
)

var awsCmd = &cobra.Command{
	Use:   "aws",
	Short: "Manage EC2 instances",
}

var awsImagesCmd = &cobra.Command{
	Use:   "images",
	Short: "List base images of the configured family, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx, cancel := commandContext()
		defer cancel()

		region := regionOrDefault(awsRegion, cfg.AWS.Regions)
		adapter := newAWSAdapter(ctx, cfg, region)
		images, err := adapter.ListImages(ctx, region)
		if err != nil {
			logging.Logger().Fatal("Failed to list images", zap.Error(err))
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCREATED\tNAME")
		for _, img := range images {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", img.ID, img.CreatedAt.Format("2006-01-02"), img.Name)
		}
		tw.Flush()
	},
}

var awsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Launch EC2 instances",
	Long:  `Launch instances and tag them with --name. Without --image the newest image of the configured family is used.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx, cancel := commandContext()
		defer cancel()

		region := regionOrDefault(awsRegion, cfg.AWS.Regions)
		adapter := newAWSAdapter(ctx, cfg, region)

		imageID := awsImageID
		if imageID == "" {
			images, err := adapter.ListImages(ctx, region)
			if err != nil {
				logging.Logger().Fatal("Failed to list images", zap.Error(err))
			}
			if len(images) == 0 {
				logging.Logger().Fatal("No image found, pass --image", zap.String("region", region))
			}
			imageID = images[0].ID
			logging.Logger().Info("using newest image", zap.String("image", imageID), zap.String("name", images[0].Name))
		}

		instanceType := awsInstanceType
		if instanceType == "" {
			instanceType = cfg.AWS.DefaultInstanceType
		}
		name := awsName
		if name == "" {
			name = fmt.Sprintf("cloudfleet-%s", uuid.NewString()[:8])
		}

		ids, err := adapter.CreateInstance(ctx, aws.CreateInstanceRequest{
			Name:             name,
			Region:           region,
			InstanceType:     instanceType,
			ImageID:          imageID,
			KeyName:          awsKeyName,
			SecurityGroupIDs: awsSecurityGroups,
			SubnetID:         awsSubnetID,
			Count:            awsCount,
		})
		for _, id := range ids {
			fmt.Println(id)
		}
		if err != nil {
			logging.Logger().Fatal("Failed to create instances", zap.Strings("created", ids), zap.Error(err))
		}
	},
}

var awsDeleteCmd = &cobra.Command{
	Use:   "delete <instance-id>",
	Short: "Terminate an EC2 instance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx, cancel := commandContext()
		defer cancel()

		region := regionOrDefault(awsRegion, cfg.AWS.Regions)
		if err := newAWSAdapter(ctx, cfg, region).DeleteInstance(ctx, args[0], region); err != nil {
			logging.Logger().Fatal("Failed to delete instance", zap.Error(err))
		}
	},
}

var awsDescribeCmd = &cobra.Command{
	Use:   "describe <instance-id>",
	Short: "Print the full EC2 record of an instance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx, cancel := commandContext()
		defer cancel()

		region := regionOrDefault(awsRegion, cfg.AWS.Regions)
		inst, err := newAWSAdapter(ctx, cfg, region).GetInstanceDetails(ctx, args[0], region)
		if err != nil {
			logging.Logger().Fatal("Failed to describe instance", zap.Error(err))
		}
		if err := printJSON(os.Stdout, inst); err != nil {
			logging.Logger().Fatal("Failed to print instance", zap.Error(err))
		}
	},
}

var awsTagCmd = &cobra.Command{
	Use:   "tag <instance-id>",
	Short: "Add or overwrite tags on an EC2 instance",
	Long:  `Add or overwrite tags. Tags not named on the command line are left untouched.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pairs, err := parseKeyValues(awsTags)
		if err != nil {
			logging.Logger().Fatal("Invalid --tag", zap.Error(err))
		}
		tags := make([]aws.Tag, 0, len(pairs))
		for k, v := range pairs {
			tags = append(tags, aws.Tag{Key: k, Value: v})
		}

		cfg := loadConfig()
		ctx, cancel := commandContext()
		defer cancel()

		region := regionOrDefault(awsRegion, cfg.AWS.Regions)
		if err := newAWSAdapter(ctx, cfg, region).ModifyInstance(ctx, args[0], region, tags); err != nil {
			logging.Logger().Fatal("Failed to tag instance", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(awsCmd)
	awsCmd.AddCommand(awsImagesCmd, awsCreateCmd, awsDeleteCmd, awsDescribeCmd, awsTagCmd)

	awsCmd.PersistentFlags().StringVar(&awsRegion, "region", "", "Region (default: first configured region)")

	awsCreateCmd.Flags().StringVar(&awsName, "name", "", "Value of the Name tag (default: generated)")
	awsCreateCmd.Flags().StringVar(&awsInstanceType, "type", "", "Instance type (default from config)")
	awsCreateCmd.Flags().StringVar(&awsImageID, "image", "", "AMI id (default: newest image of the configured family)")
	awsCreateCmd.Flags().StringVar(&awsKeyName, "key-name", "", "EC2 key pair name")
	awsCreateCmd.Flags().StringSliceVar(&awsSecurityGroups, "security-group", nil, "Security group id, repeatable")
	awsCreateCmd.Flags().StringVar(&awsSubnetID, "subnet", "", "Subnet id")
	awsCreateCmd.Flags().Int32Var(&awsCount, "count", 1, "Number of instances")

	awsTagCmd.Flags().StringArrayVar(&awsTags, "tag", nil, "Tag as key=value, repeatable")
	if err := awsTagCmd.MarkFlagRequired("tag"); err != nil {
		panic(fmt.Sprintf("failed to mark flag as required: %v", err))
	}
}

func regionOrDefault(flag string, configured []string) string {
	if flag != "" {
		return flag
	}
	if len(configured) > 0 {
		return configured[0]
	}
	return aws.DefaultRegion
}

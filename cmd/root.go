package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cloudfleet/internal/config"
	"cloudfleet/internal/logging"
)

var (
	configPath string
	timeout    time.Duration
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cloudfleet",
	Short: "Manage compute instances on AWS EC2 and Google Compute Engine",
	Long: `cloudfleet lists, creates, inspects, labels and deletes virtual machines
on AWS EC2 and Google Compute Engine through one command line, and manages the
Cloud Storage buckets of the configured GCP projects.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logLevel == "" {
			return
		}
		if err := logging.SetLevel(logLevel); err != nil {
			logging.Logger().Fatal("Invalid log level", zap.String("level", logLevel), zap.Error(err))
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the config file (default $CONFIG_PATH or "+config.DefaultPath+")")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Minute, "Upper bound for the whole command, waits included")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
}

func loadConfig() *config.Config {
	path := config.Path(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		logging.Logger().Fatal("Failed to load configuration", zap.String("path", path), zap.Error(err))
	}
	return cfg
}

// commandContext bounds a command by --timeout.
func commandContext() (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

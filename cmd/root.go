// Package cmd wires the registry's command line interface.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mpak-dev/mpak-registry/internal/config"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:     "mpak-registry",
	Short:   "Package registry for MCP server bundles",
	Long:    `A package registry for MCP server bundles: publish, claim ownership, download, and track security certification of .mcpb packages.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.mpak-registry/config.yaml)")
}

func initConfig() {
	defaults := config.Default()
	viper.SetDefault("server.addr", defaults.Server.Addr)
	viper.SetDefault("server.max_upload_mb", defaults.Server.MaxUploadMB)
	viper.SetDefault("server.download_ttl_minutes", defaults.Server.DownloadTTLMinutes)
	viper.SetDefault("database.path", defaults.Database.Path)
	viper.SetDefault("storage.root", defaults.Storage.Root)
	viper.SetDefault("github.stats_ttl_minutes", defaults.GitHub.StatsTTLMinutes)
	viper.SetDefault("scanner.freshness_minutes", defaults.Scanner.FreshnessMinutes)
	viper.SetDefault("tasks.max_workers", defaults.Tasks.MaxWorkers)
	viper.SetDefault("tasks.queue_capacity", defaults.Tasks.QueueCapacity)
	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(config.DefaultDataDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// MPAK_SCANNER_CALLBACK_SECRET etc. override file values.
	viper.SetEnvPrefix("MPAK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "reading config: %v\n", err)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// configFilePath returns the path the config was loaded from, or the
// default location for writes when no file existed.
func configFilePath() string {
	if path := viper.ConfigFileUsed(); path != "" {
		return path
	}
	return filepath.Join(config.DefaultDataDir(), "config.yaml")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

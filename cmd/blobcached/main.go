package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sagarc03/blobcache/config"
)

var version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Version: version,
	Use:     "blobcached",
	Short:   "Temporary file cache service",
	Long: `blobcached is a content-addressed temporary file cache: upload
bytes, get a TTL-bounded record back, retrieve or delete it before it
expires. Background reapers reclaim expired records and orphaned objects.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var files []string
		if cfgFile != "" {
			files = []string{cfgFile}
		}

		cfg, err := config.Load(files, cmd.Flags())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		setupLogging(cfg)

		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("storage-dir", "", "storage base directory (env: BLOBCACHE_STORAGE_DIR)")
	rootCmd.PersistentFlags().String("metadata-dsn", "", "metadata store DSN (env: BLOBCACHE_METADATA_DSN)")
	rootCmd.PersistentFlags().String("auth-token", "", "bearer token required of clients (env: BLOBCACHE_AUTH_TOKEN)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	_ = viper.BindPFlag("storage.dir", rootCmd.PersistentFlags().Lookup("storage-dir"))
	_ = viper.BindPFlag("metadata.dsn", rootCmd.PersistentFlags().Lookup("metadata-dsn"))
	_ = viper.BindPFlag("auth.token", rootCmd.PersistentFlags().Lookup("auth-token"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

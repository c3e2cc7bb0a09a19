// Command meilisync tails a source database's change log and mirrors
// declared tables or collections into MeiliSearch indexes.
package main

import (
	"fmt"
	"os"
	"time"

	sentry "github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/long2ice/meilisync/pkg/config"

	_ "github.com/long2ice/meilisync/pkg/plugin/builtin"
	_ "github.com/long2ice/meilisync/pkg/progress/file"
	_ "github.com/long2ice/meilisync/pkg/progress/redisstore"
	_ "github.com/long2ice/meilisync/pkg/source/mongosrc"
	_ "github.com/long2ice/meilisync/pkg/source/mysqlsrc"
	_ "github.com/long2ice/meilisync/pkg/source/postgressrc"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "meilisync",
	Short:         "meilisync replicates database changes into MeiliSearch",
	Long:          `meilisync tails a source database's change log (MySQL binlog, Postgres logical replication, or a MongoDB change stream) and mirrors declared tables or collections into MeiliSearch indexes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yml", "config file")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error loading config:", err)
		os.Exit(1)
	}

	if cfg.Debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error building logger:", err)
		os.Exit(1)
	}

	if cfg.Sentry != nil && cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
		}); err != nil {
			logger.Error("sentry init failed", zap.Error(err))
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("fatal", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		if cfg != nil && cfg.Sentry != nil && cfg.Sentry.DSN != "" {
			sentry.CaptureException(err)
			sentry.Flush(2 * time.Second)
		}
		os.Exit(1)
	}
}

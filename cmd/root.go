package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/sassbridge/internal/config"
	"github.com/zjrosen/sassbridge/internal/log"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sassbridge",
	Short: "Compile Sass through Dart Sass worker processes",
	Long: `sassbridge compiles SCSS and indented Sass to CSS by handing each request to a
worker process that drives Dart Sass. Workers run one-shot or stay alive in
persistent mode, and large results can be streamed in chunks.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: initLogging,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./.sassbridge.yaml or ~/.config/sassbridge/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"write debug logs (path from SASSBRIDGE_LOG, default sassbridge-debug.log)")
	rootCmd.PersistentFlags().String("compiler", "",
		"path to the Dart Sass executable (overrides config)")

	_ = viper.BindPFlag("compiler.path", rootCmd.PersistentFlags().Lookup("compiler"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("worker.args", defaults.Worker.Args)
	viper.SetDefault("response_timeout", defaults.ResponseTimeout)
	viper.SetDefault("limits.max_input_bytes", defaults.Limits.MaxInputBytes)
	viper.SetDefault("limits.stream_threshold_bytes", defaults.Limits.StreamThresholdBytes)
	viper.SetDefault("limits.chunk_size_bytes", defaults.Limits.ChunkSizeBytes)
	viper.SetDefault("defaults.syntax", defaults.CompileDefaults.Syntax)
	viper.SetDefault("defaults.style", defaults.CompileDefaults.Style)
	viper.SetDefault("cache.ttl", defaults.Cache.TTL)
	viper.SetDefault("watch.debounce", defaults.Watch.Debounce)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)

	// SASSBRIDGE_COMPILER_PATH, SASSBRIDGE_PERSISTENT, ...
	viper.SetEnvPrefix("SASSBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. ./.sassbridge.yaml (current directory)
		// 2. ~/.config/sassbridge/config.yaml (user config)
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			viper.SetConfigFile(config.DefaultConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "sassbridge"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		// No config file anywhere is fine; defaults apply. `sassbridge init`
		// writes one.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Warning: reading config: %v\n", err)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// initLogging enables the file logger when --debug or SASSBRIDGE_DEBUG is set.
func initLogging(_ *cobra.Command, _ []string) error {
	if !debugFlag && os.Getenv("SASSBRIDGE_DEBUG") == "" {
		return nil
	}
	logPath := os.Getenv("SASSBRIDGE_LOG")
	if logPath == "" {
		logPath = "sassbridge-debug.log"
	}
	if _, err := log.Init(logPath); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	log.Info(log.CatConfig, "sassbridge starting", "version", version, "config", viper.ConfigFileUsed())
	return nil
}

// configFilePath is where commands that edit the config write to.
func configFilePath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return config.DefaultConfigPath
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context so workers are stopped and outputs are not left half written.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

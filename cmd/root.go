package cmd

import (
	"fmt"
	"os"
	"strings"

	"quizgen/internal/application/common/slogger"
	"quizgen/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "quizgen",
	Short: "A quiz question generation job engine",
	Long: `Quizgen orchestrates LLM-backed quiz question generation jobs.

The engine:
- Accepts generation jobs and drives them through a batch loop
- Runs generated batches through an LLM quality control pass
- Deduplicates near-identical questions per job
- Publishes approved questions into the downstream question bank
- Processes jobs asynchronously over NATS JetStream, falling back to
  in-process execution when the broker is unavailable`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./configs/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format (json, text)")

	if err := viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding log-level flag: %v\n", err)
	}
	if err := viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format")); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding log-format flag: %v\n", err)
	}
}

func initConfig() {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("QUIZGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
		// Config file not found; use defaults and environment.
	}

	cfg = config.New(v)
	slogger.Configure(cfg.Log.Level, cfg.Log.Format)
}

func setDefaults(v *viper.Viper) {
	// Worker defaults
	v.SetDefault("worker.concurrency", 5)
	v.SetDefault("worker.queue_group", "generation-workers")
	v.SetDefault("worker.job_timeout", "30m")
	v.SetDefault("worker.stuck_job_max_age", "5m")
	v.SetDefault("worker.recovery_interval", "1m")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "quizgen")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_connections", 5)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", 5)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.recheck_interval", "60s")

	// LLM defaults
	v.SetDefault("openai.generation_model", "gpt-4o")
	v.SetDefault("openai.qc_model", "gpt-4o-mini")
	v.SetDefault("openai.max_retries", 3)
	v.SetDefault("openai.timeout", "2m")

	// Generation defaults
	v.SetDefault("generation.batch_size", 5)
	v.SetDefault("generation.max_retries", 3)
	v.SetDefault("generation.max_per_job", 100)
	v.SetDefault("generation.avoid_list_size", 50)
	v.SetDefault("generation.self_correction_limit", 10)
	v.SetDefault("generation.dedup_threshold", 0.80)
	v.SetDefault("generation.qc_pass_threshold", 70)

	// Logging defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// GetConfig returns the loaded configuration.
func GetConfig() *config.Config {
	return cfg
}

// Package cmd provides the command-line interface for PoliteCrawl.
// It handles command parsing, configuration loading, and crawler execution.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/masahif/politecrawl/internal/config"
	"github.com/masahif/politecrawl/internal/crawler"
	"github.com/masahif/politecrawl/internal/fetch"
	"github.com/masahif/politecrawl/internal/filter"
	"github.com/masahif/politecrawl/internal/frontier"
	"github.com/masahif/politecrawl/internal/logging"
	"github.com/masahif/politecrawl/internal/metrics"
	"github.com/masahif/politecrawl/internal/parser"
	"github.com/masahif/politecrawl/internal/storage"
)

const (
	defaultConfigName = "politecrawl"
	envPrefix         = "PC"
	defaultUserAgent  = "PoliteCrawl/1.0"
)

var (
	version   string
	buildTime string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd(viper.New())

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets version information for the CLI
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

// flagBinding ties a command-line flag to a configuration key
type flagBinding struct {
	viperKey string
	flagName string
}

var bindFlags = []flagBinding{
	{"concurrency", "concurrency"},
	{"politeness", "politeness"},
	{"request_delay", "delay"},
	{"limit", "limit"},
	{"restart", "restart"},
	{"stats_interval", "stats-interval"},
	{"metrics_addr", "metrics-addr"},
	{"store.driver", "store-driver"},
	{"store.path", "database"},
	{"store.dsn", "store-dsn"},
	{"store.table", "store-table"},
	{"store.redis_addr", "redis-addr"},
	{"store.redis_key", "redis-key"},
	{"filter.allowed_domains", "allowed-domains"},
	{"filter.path_rules", "path-rule"},
	{"filter.max_query_length", "max-query-length"},
	{"filter.include_patterns", "include-patterns"},
	{"filter.exclude_patterns", "exclude-patterns"},
	{"fetch.user_agent", "user-agent"},
	{"fetch.timeout", "timeout"},
	{"fetch.proxy_url", "proxy-url"},
	{"fetch.basic_auth.username", "auth-username"},
	{"fetch.basic_auth.password", "auth-password"},
	{"log.level", "log-level"},
	{"log.file", "log-file"},
	{"log.development", "log-dev"},
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "politecrawl [URLs...]",
		Short: "A polite, resumable web crawler",
		Long: `PoliteCrawl crawls a set of domains from seed URLs.

Every discovered URL is recorded in a durable store, so an interrupted
crawl resumes where it stopped. Requests to one domain are spaced by the
politeness interval no matter how many workers run.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cfgFile, cmd.ErrOrStderr())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawler(cmd, args, v)
		},
	}

	// Configuration file flag
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./politecrawl.yaml)")

	// Configuration management flags
	cmd.Flags().Bool("show-config", false, "Display current configuration in YAML format and exit")

	// Crawl flags
	cmd.Flags().IntP("concurrency", "c", defaults.Concurrency, "Number of concurrent workers")
	cmd.Flags().Float64P("politeness", "p", defaults.Politeness, "Minimum seconds between requests to one domain")
	cmd.Flags().Float64P("delay", "r", defaults.RequestDelay, "Seconds each worker sleeps after a task")
	cmd.Flags().IntP("limit", "l", defaults.Limit, "Stop after N pages (0=unlimited)")
	cmd.Flags().Bool("restart", false, "Discard saved state and start again from the seed URLs")
	cmd.Flags().Duration("stats-interval", defaults.StatsInterval, "Progress log period (0 disables)")
	cmd.Flags().String("metrics-addr", "", "Serve /metrics and /healthz on this address")

	// Store flags
	cmd.Flags().String("store-driver", defaults.Store.Driver, "Store backend: sqlite, postgres or redis")
	cmd.Flags().StringP("database", "d", defaults.Store.Path, "Path to SQLite database file")
	cmd.Flags().String("store-dsn", "", "Postgres connection string")
	cmd.Flags().String("store-table", defaults.Store.Table, "Postgres table name")
	cmd.Flags().String("redis-addr", "", "Redis host:port")
	cmd.Flags().String("redis-key", defaults.Store.RedisKey, "Redis hash holding the task records")

	// URL filtering flags
	cmd.Flags().StringSlice("allowed-domains", nil, "Domain suffixes to crawl (empty allows any)")
	cmd.Flags().StringSlice("path-rule", nil, "Restrict a host to a path prefix, as host=/prefix")
	cmd.Flags().Int("max-query-length", defaults.Filter.MaxQueryLength, "Reject URLs with longer queries (0 disables)")
	cmd.Flags().StringSlice("include-patterns", nil, "Regex patterns for URLs to include")
	cmd.Flags().StringSlice("exclude-patterns", nil, "Regex patterns for URLs to exclude")

	// Fetch flags
	cmd.Flags().StringP("user-agent", "u", defaults.Fetch.UserAgent, "HTTP User-Agent header")
	cmd.Flags().DurationP("timeout", "t", defaults.Fetch.Timeout, "HTTP request timeout")
	cmd.Flags().String("proxy-url", "", "Fetch through this cache or proxy")
	cmd.Flags().String("auth-username", "", "Username for basic authentication")
	cmd.Flags().String("auth-password", "", "Password for basic authentication")

	// Logging flags
	cmd.Flags().String("log-level", defaults.Log.Level, "Log level: debug, info, warn, error")
	cmd.Flags().String("log-file", defaults.Log.File, "Log file (empty disables file output)")
	cmd.Flags().Bool("log-dev", false, "Human-readable console logs")

	for _, bind := range bindFlags {
		if err := v.BindPFlag(bind.viperKey, cmd.Flags().Lookup(bind.flagName)); err != nil {
			// Log the error but continue - non-critical for operation
			fmt.Fprintf(os.Stderr, "Warning: failed to bind flag %s: %v\n", bind.flagName, err)
		}
	}

	// Keys without a flag still need a default for PC_ variables to apply
	v.SetDefault("store.put_retries", defaults.Store.PutRetries)
	v.SetDefault("store.retry_backoff", defaults.Store.RetryBackoff)
	v.SetDefault("filter.allowed_schemes", defaults.Filter.AllowedSchemes)
	v.SetDefault("filter.skip_binary", defaults.Filter.SkipBinary)
	v.SetDefault("fetch.max_body_bytes", defaults.Fetch.MaxBodyBytes)
	v.SetDefault("log.max_size", defaults.Log.MaxSize)
	v.SetDefault("log.max_backups", defaults.Log.MaxBackups)
	v.SetDefault("log.console", defaults.Log.Console)

	return cmd
}

// initConfig reads in config file and ENV variables if set.
func initConfig(v *viper.Viper, cfgFile string, stderr io.Writer) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(defaultConfigName)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
		return nil
	}
	fmt.Fprintf(stderr, "Using config file: %s\n", v.ConfigFileUsed())
	return nil
}

// loadConfig merges defaults, config file, environment and flags
func loadConfig(v *viper.Viper, args []string) (*config.CrawlConfig, error) {
	cfg := config.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(args) > 0 {
		cfg.SeedURLs = args
	}
	if cfg.Fetch.UserAgent == defaultUserAgent {
		cfg.Fetch.UserAgent = generateUserAgent()
	}
	return cfg, nil
}

func generateUserAgent() string {
	if version != "" && version != "dev" {
		return fmt.Sprintf("PoliteCrawl/%s", version)
	}
	return defaultUserAgent
}

func showCurrentConfig(w io.Writer, cfg *config.CrawlConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Configuration validation failed: %v\n", err)
		fmt.Fprintf(os.Stderr, "Displaying configuration anyway...\n\n")
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	fmt.Fprintf(w, "# Current PoliteCrawl Configuration\n")
	fmt.Fprintf(w, "# Generated at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "# Configuration file search paths: ./%s.yaml\n", defaultConfigName)
	fmt.Fprintf(w, "# Environment variables prefix: %s_\n\n", envPrefix)
	fmt.Fprint(w, string(yamlData))

	return nil
}

func runCrawler(cmd *cobra.Command, args []string, v *viper.Viper) error {
	cfg, err := loadConfig(v, args)
	if err != nil {
		return err
	}

	if showConfig, _ := cmd.Flags().GetBool("show-config"); showConfig {
		return showCurrentConfig(cmd.OutOrStdout(), cfg)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logging.SetDefault(loggingConfig(cfg)); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	logger := zap.L()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, logger)
}

func loggingConfig(cfg *config.CrawlConfig) logging.Config {
	return logging.Config{
		Level:       logging.ParseLevel(cfg.Log.Level),
		FilePath:    cfg.Log.File,
		MaxSize:     cfg.Log.MaxSize,
		MaxBackups:  cfg.Log.MaxBackups,
		Console:     cfg.Log.Console,
		Development: cfg.Log.Development,
	}
}

// run opens the store, builds the frontier and drives the crawl to the end.
func run(ctx context.Context, cfg *config.CrawlConfig, logger *zap.Logger) (err error) {
	base, err := storage.Open(ctx, storage.Options{
		Driver:    cfg.Store.Driver,
		Path:      cfg.Store.Path,
		DSN:       cfg.Store.DSN,
		Table:     cfg.Store.Table,
		RedisAddr: cfg.Store.RedisAddr,
		RedisKey:  cfg.Store.RedisKey,
		Fresh:     cfg.Restart,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	store := storage.WithRetry(base, cfg.Store.PutRetries, cfg.Store.RetryBackoff, logger)
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close store: %w", cerr)
		}
	}()

	rules, err := filter.New(cfg.Filter)
	if err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}

	front, err := frontier.New(ctx, store, rules, frontier.Config{
		Seeds:      cfg.SeedURLs,
		Fresh:      cfg.Restart,
		Politeness: cfg.PolitenessDelay(),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to build frontier: %w", err)
	}
	defer func() { _ = front.Close() }()

	if front.Pending() == 0 {
		logger.Info("Nothing to crawl", zap.String("store", cfg.Store.Driver))
		return nil
	}

	fetcher, err := fetch.NewHTTPFetcher(cfg, logger)
	if err != nil {
		return err
	}
	defer fetcher.Close()

	ctrl, err := crawler.NewController(cfg, front, fetcher, parser.NewLinkExtractorWithSchemes(cfg.Filter.AllowedSchemes), logger)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.MetricsAddr, logger); err != nil {
				logger.Warn("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	return ctrl.Run(ctx)
}

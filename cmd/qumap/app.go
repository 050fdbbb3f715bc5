package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	qumap "github.com/arbitrary-number/qumap-go"
	"github.com/arbitrary-number/qumap-go/internal/infra/buildinfo"
	"github.com/arbitrary-number/qumap-go/internal/infra/confloader"
	"github.com/arbitrary-number/qumap-go/internal/telemetry/logger"
)

// FileConfig is the on-disk configuration schema.
type FileConfig struct {
	Store struct {
		Dir                string        `koanf:"dir"`
		Mode               string        `koanf:"mode"`
		SyncInterval       time.Duration `koanf:"sync_interval"`
		CheckpointInterval time.Duration `koanf:"checkpoint_interval"`
		BucketCapacity     int           `koanf:"bucket_capacity"`
		LockTimeout        time.Duration `koanf:"lock_timeout"`
		CompressLevel      int           `koanf:"compress_level"`
		CompressThreshold  int           `koanf:"compress_threshold"`
		DomainSeparator    string        `koanf:"domain_separator"`
	} `koanf:"store"`

	Log struct {
		Level  string `koanf:"level"`
		Format string `koanf:"format"`
	} `koanf:"log"`

	Metrics struct {
		Address string `koanf:"address"`
	} `koanf:"metrics"`
}

// App creates the CLI application.
func App() *cli.App {
	app := &cli.App{
		Name:    "qumap",
		Usage:   "curve-addressed persistent key-value store",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			PutCommand(),
			GetCommand(),
			RemoveCommand(),
			ContainsCommand(),
			ClearCommand(),
			StatsCommand(),
			CheckpointCommand(),
			BenchCommand(),
			ServeCommand(),
		},
	}

	return app
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "data-dir",
			Aliases: []string{"d"},
			Usage:   "Store data directory",
			EnvVars: []string{"QUMAP_DATA_DIR"},
			Value:   "data",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file (YAML)",
			EnvVars: []string{"QUMAP_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "mode",
			Aliases: []string{"m"},
			Usage:   "Durability mode: disabled, sync, async, hybrid",
			EnvVars: []string{"QUMAP_MODE"},
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "Enable verbose output",
		},
	}
}

// loadConfig merges file, environment, and flag configuration.
func loadConfig(c *cli.Context) (*FileConfig, error) {
	cfg := &FileConfig{}
	cfg.Store.Dir = c.String("data-dir")
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Metrics.Address = "localhost:9185"

	opts := []confloader.Option{}
	if path := c.String("config"); path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}
	loader := confloader.NewLoader(opts...)
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}

	// Flags override file and environment.
	if c.IsSet("data-dir") {
		cfg.Store.Dir = c.String("data-dir")
	}
	if c.IsSet("mode") {
		cfg.Store.Mode = c.String("mode")
	}
	if c.Bool("verbose") {
		cfg.Log.Level = "debug"
	}

	return cfg, nil
}

// initLogger builds the application logger from configuration.
func initLogger(cfg *FileConfig) (logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)
	return log, nil
}

// openMap opens the store described by the merged configuration.
func openMap(c *cli.Context) (*qumap.Map, *FileConfig, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	log, err := initLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}

	opts := []qumap.Option{
		qumap.WithLogger(log.Slog()),
	}
	if cfg.Store.Mode != "" {
		opts = append(opts, qumap.WithMode(qumap.Mode(cfg.Store.Mode)))
	}
	if cfg.Store.SyncInterval > 0 {
		opts = append(opts, qumap.WithSyncInterval(cfg.Store.SyncInterval))
	}
	if cfg.Store.CheckpointInterval > 0 {
		opts = append(opts, qumap.WithCheckpointInterval(cfg.Store.CheckpointInterval))
	}
	if cfg.Store.BucketCapacity > 0 {
		opts = append(opts, qumap.WithBucketCapacity(cfg.Store.BucketCapacity))
	}
	if cfg.Store.LockTimeout > 0 {
		opts = append(opts, qumap.WithLockTimeout(cfg.Store.LockTimeout))
	}
	if cfg.Store.CompressLevel > 0 {
		opts = append(opts, qumap.WithCompression(cfg.Store.CompressLevel, cfg.Store.CompressThreshold))
	}
	if cfg.Store.DomainSeparator != "" {
		opts = append(opts, qumap.WithDomainSeparator([]byte(cfg.Store.DomainSeparator)))
	}

	m, err := qumap.Open(cfg.Store.Dir, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	return m, cfg, nil
}

// parseValueType maps a type name to its ValueType.
func parseValueType(s string) (qumap.ValueType, error) {
	switch strings.ToLower(s) {
	case "", "string":
		return qumap.ValueTypeString, nil
	case "binary":
		return qumap.ValueTypeBinary, nil
	case "numeric":
		return qumap.ValueTypeNumeric, nil
	case "ast":
		return qumap.ValueTypeAST, nil
	case "proof":
		return qumap.ValueTypeProof, nil
	case "custom":
		return qumap.ValueTypeCustom, nil
	default:
		return 0, fmt.Errorf("unknown value type: %s", s)
	}
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}

// Package investigations parses investigations command flags and launches
// the service runtime.
package investigations

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/corvid-labs/fieldaudit/internal/platform/cmd"
	investigationsserver "github.com/corvid-labs/fieldaudit/internal/services/investigations/app"
)

// Config holds investigations command configuration.
type Config struct {
	Port           int           `env:"FIELDAUDIT_INVESTIGATIONS_PORT" envDefault:"8071"`
	DBPath         string        `env:"FIELDAUDIT_INVESTIGATIONS_DB_PATH" envDefault:"data/investigations.db"`
	ScanInterval   time.Duration `env:"FIELDAUDIT_INVESTIGATIONS_SCAN_INTERVAL" envDefault:"10m"`
	SeedSampleData bool          `env:"FIELDAUDIT_INVESTIGATIONS_SEED_SAMPLE_DATA" envDefault:"false"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The investigations health gRPC server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The investigations SQLite database path")
	fs.DurationVar(&cfg.ScanInterval, "scan-interval", cfg.ScanInterval, "Interval between automatic investigator runs")
	fs.BoolVar(&cfg.SeedSampleData, "seed-sample-data", cfg.SeedSampleData, "Seed sample invoices and waybills when the tables are empty")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the investigations runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceInvestigations, func(context.Context) error {
		return investigationsserver.Run(ctx, investigationsserver.RuntimeConfig{
			Port:           cfg.Port,
			DBPath:         cfg.DBPath,
			ScanInterval:   cfg.ScanInterval,
			SeedSampleData: cfg.SeedSampleData,
		})
	})
}

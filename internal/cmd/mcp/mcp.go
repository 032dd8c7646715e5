// Package mcp parses MCP command flags and serves the investigations admin
// tools over stdio.
package mcp

import (
	"context"
	"flag"
	"fmt"
	"log"

	entrypoint "github.com/corvid-labs/fieldaudit/internal/platform/cmd"
	mcpapi "github.com/corvid-labs/fieldaudit/internal/services/investigations/api/mcp"
	"github.com/corvid-labs/fieldaudit/internal/services/investigations/app"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Config holds MCP command configuration.
type Config struct {
	DBPath string `env:"FIELDAUDIT_INVESTIGATIONS_DB_PATH" envDefault:"data/investigations.db"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The investigations SQLite database path")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run serves the investigations admin tools over stdio until the context is
// cancelled.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMCP, func(context.Context) error {
		runtime, err := app.NewRuntime(cfg.DBPath)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := runtime.Close(); closeErr != nil {
				log.Printf("close investigations runtime: %v", closeErr)
			}
		}()

		if err := runtime.Service.EnsureDefaultCatalog(ctx); err != nil {
			return fmt.Errorf("ensure investigator catalog: %w", err)
		}
		server, err := mcpapi.NewServer(runtime.Service)
		if err != nil {
			return err
		}
		return server.Run(ctx, &sdkmcp.StdioTransport{})
	})
}

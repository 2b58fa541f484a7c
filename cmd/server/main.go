// Command server runs the bucket store.
//
// Usage:
//
//	server serve --config config/bucketstore.yaml
//	server inspect data/dump.bkt
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/AndySung320/bucketstore/config"
)

type CLI struct {
	Serve   ServeCmd   `cmd:"" default:"1" help:"Start the HTTP server."`
	Inspect InspectCmd `cmd:"" help:"Print the contents of a snapshot file."`

	Config   string `short:"c" help:"Path to config file (defaults are used when empty)." type:"path"`
	EnvFile  string `name:"env-file" help:"Dotenv file loaded before the environment is read." default:".env"`
	LogLevel string `name:"log-level" help:"Override the configured log level (debug, info, warn, error)."`
}

// loadConfig resolves the configuration: defaults, then the config file,
// then environment variables, then flags.
func (cli *CLI) loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(cli.EnvFile); err != nil {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := config.Default()
	if cli.Config != "" {
		loaded, err := config.Load(cli.Config)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("bucketstore"),
		kong.Description("Token bucket rate limiter served over HTTP."),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}

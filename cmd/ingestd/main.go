// Command ingestd serves the ingest/publish HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	ingest "github.com/jdziat/geo-ingest"
	"github.com/jdziat/geo-ingest/pkg/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		envFiles  []string
		listen    string
		logLevel  string
		logFormat string
		checkOnly bool
	)
	flagSet := pflag.NewFlagSet("ingestd", pflag.ContinueOnError)
	flagSet.StringArrayVar(&envFiles, "env-file", []string{".env"}, "load variables from this file; repeatable, missing files are ignored")
	flagSet.StringVar(&listen, "listen", "", "listen address (overrides LISTEN_ADDR)")
	flagSet.StringVar(&logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flagSet.StringVar(&logFormat, "log-format", "", "json or text (overrides LOG_FORMAT)")
	flagSet.BoolVar(&checkOnly, "check-config", false, "validate the configuration and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, err := config.Load(envFiles...)
	if err != nil {
		return fmt.Errorf("configuration:\n%w", err)
	}
	if listen != "" {
		cfg.ListenAddr = listen
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if checkOnly {
		fmt.Fprintln(os.Stderr, "configuration OK")
		return nil
	}

	app, err := ingest.New(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `ingestd loads vector files (Shapefile, KML, CSV, XLSX) into PostGIS and
publishes tables through GeoServer.

Configuration is read from the environment, seeded from --env-file.
Required: POSTGIS_HOST, POSTGIS_USER, POSTGIS_PASS (or POSTGIS_PASS_FILE),
POSTGIS_DB_NAME. Publishing is enabled when GEOSERVER_URL is set.

Usage:
  ingestd [flags]

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}

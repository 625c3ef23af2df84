package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

// Exit codes.
const (
	exitValid   = 0
	exitInvalid = 1
	exitError   = 2
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err == nil {
		slog.Debug("loaded .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := exitValid
	cmd := &cli.Command{
		Name:  "validata",
		Usage: "Validate CSV files against table schemas",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "catalog",
				Sources: cli.EnvVars("CATALOG_FILE"),
				Usage:   "YAML catalog of named schemas",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error (overrides LOG_LEVEL)",
			},
		},
		Commands: []*cli.Command{
			validateCommand(&code),
			schemasCommand(),
			checkSchemaCommand(&code),
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "validata:", err)
		stop()
		os.Exit(exitError)
	}
	stop()
	os.Exit(code)
}

func validateCommand(code *int) *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a data source against a schema",
		ArgsUsage: "<data: file, URL, s3://bucket/key or - for stdin>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "schema", Aliases: []string{"s"}, Usage: "Schema URL or local file"},
			&cli.StringFlag{Name: "schema-name", Aliases: []string{"n"}, Usage: "Schema name from the catalog"},
			&cli.StringFlag{Name: "text", Usage: "Validate this pasted text instead of a data argument"},
			&cli.BoolFlag{Name: "strict-order", Usage: "Report any column order mismatch as an error"},
			&cli.BoolFlag{Name: "ignore-header-case", Usage: "Match header names case-insensitively"},
			&cli.StringFlag{Name: "fk-schema", Usage: "Schema of the table foreign keys point at"},
			&cli.StringFlag{Name: "fk-data", Usage: "Data of the table foreign keys point at"},
			&cli.StringFlag{Name: "fk-resource", Usage: "Resource name of the foreign key table"},
			&cli.StringFlag{Name: "encoding", Usage: "Force the data encoding, e.g. latin1"},
			&cli.StringFlag{Name: "delimiter", Usage: "Force the delimiter; use \"tab\" for tabs"},
			&cli.BoolFlag{Name: "header", Usage: "The first record is a header"},
			&cli.BoolFlag{Name: "no-header", Usage: "The data has no header record"},
			&cli.Int64Flag{Name: "max-fetch-bytes", Usage: "Largest schema or data download (overrides FETCH_MAX_BYTES)"},
			&cli.DurationFlag{Name: "fetch-timeout", Usage: "Timeout of each download (overrides FETCH_TIMEOUT)"},
			&cli.IntFlag{Name: "max-rows", Usage: "Stop after this many rows; -1 for no limit"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Write the JSON report to this file"},
			&cli.BoolFlag{Name: "pretty", Usage: "Indent the JSON report"},
			&cli.StringFlag{Name: "metrics-file", Sources: cli.EnvVars("METRICS_FILE"), Usage: "Write Prometheus metrics to this textfile"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := setup(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()

			*code = a.validate(ctx, c)
			return nil
		},
	}
}

func schemasCommand() *cli.Command {
	return &cli.Command{
		Name:  "schemas",
		Usage: "List the schemas of the catalog",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print the catalog as JSON"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := setup(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.listSchemas(os.Stdout, c.Bool("json"))
		},
	}
}

func checkSchemaCommand(code *int) *cli.Command {
	return &cli.Command{
		Name:      "check-schema",
		Usage:     "Check that a schema is well formed",
		ArgsUsage: "<schema: URL, file or catalog name>",
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := setup(ctx, c)
			if err != nil {
				return err
			}
			defer a.Close()

			*code = a.checkSchema(ctx, c.Args().First())
			return nil
		},
	}
}

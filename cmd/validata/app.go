package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/urfave/cli/v3"

	"github.com/JonMunkholm/validata/internal/cache"
	"github.com/JonMunkholm/validata/internal/catalog"
	"github.com/JonMunkholm/validata/internal/config"
	"github.com/JonMunkholm/validata/internal/core"
	"github.com/JonMunkholm/validata/internal/engine"
	"github.com/JonMunkholm/validata/internal/fetch"
	"github.com/JonMunkholm/validata/internal/logging"
	"github.com/JonMunkholm/validata/internal/metrics"
	"github.com/JonMunkholm/validata/internal/report"
	"github.com/JonMunkholm/validata/internal/schema"
	"github.com/JonMunkholm/validata/internal/source"
)

// app holds the wired collaborators of one CLI invocation.
type app struct {
	cfg     *config.Config
	svc     *core.Service
	catalog *catalog.Holder
	store   cache.Store
	metrics *metrics.Collector
}

// setup loads configuration and wires the service.
func setup(ctx context.Context, c *cli.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if f := c.String("catalog"); f != "" {
		cfg.Catalog.File = f
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String())

	a := &app{cfg: cfg, metrics: metrics.New()}

	var opts []fetch.Option
	opts = append(opts, fetch.WithUserAgent(cfg.Fetch.UserAgent))
	if cfg.S3.Enabled() {
		mc, err := fetch.NewS3(fetch.S3Options{
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Region:          cfg.S3.Region,
			UseSSL:          cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		opts = append(opts, fetch.WithS3(mc))
	}
	client := fetch.NewClient(fetch.Limits{MaxBytes: cfg.Fetch.MaxBytes, Timeout: cfg.Fetch.Timeout}, opts...)

	a.store, err = cache.Open(ctx, cache.Options{
		Backend:    cfg.Cache.Backend,
		RedisURL:   cfg.Cache.RedisURL,
		SQLitePath: cfg.Cache.SQLitePath,
	})
	if err != nil {
		slog.Warn("schema cache disabled", "backend", cfg.Cache.Backend, "error", err)
		a.store = nil
	}

	if cfg.Catalog.File != "" {
		a.catalog, err = catalog.NewHolder(cfg.Catalog.File)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		if cfg.Catalog.Watch {
			if err := a.catalog.WatchFile(); err != nil {
				slog.Warn("catalog watch disabled", "error", err)
			}
		}
		slog.Debug("catalog loaded", "path", cfg.Catalog.File, "schemas", a.catalog.Snapshot().Len())
	}

	var badge *report.BadgeConfig
	if cfg.Report.BadgeConfig != "" {
		badge, err = report.LoadBadgeConfig(cfg.Report.BadgeConfig)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.svc, err = core.NewService(cfg, core.Deps{
		Catalog: a.catalog,
		Fetcher: cache.NewFetcher(client, a.store, cfg.Cache.TTL),
		Opener:  client,
		Metrics: a.metrics,
		Badge:   badge,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the cache and stops catalog watching.
func (a *app) Close() {
	if a.catalog != nil {
		a.catalog.Stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("close cache", "error", err)
		}
	}
}

// validate runs the validate command and returns the exit code.
func (a *app) validate(ctx context.Context, c *cli.Command) int {
	req, cleanup, err := buildRequest(c)
	defer cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, "validata:", err)
		return exitError
	}

	rep, err := a.svc.Validate(ctx, req)
	a.writeMetrics(c.String("metrics-file"))
	if err != nil {
		slog.Error("validation aborted", "error", err)
		fmt.Fprintln(os.Stderr, core.FormatUserError(err))
		return exitError
	}

	if err := writeReport(rep, c.String("out"), c.Bool("pretty")); err != nil {
		fmt.Fprintln(os.Stderr, "validata:", err)
		return exitError
	}

	switch {
	case rep.Valid():
		return exitValid
	case rep.Status == report.StatusInvalid:
		return exitInvalid
	default:
		if rep.Failure != nil {
			fmt.Fprintf(os.Stderr, "%s (Code: %s): %s\n", rep.Failure.Stage, rep.Failure.Code, rep.Failure.Detail)
		}
		return exitError
	}
}

func (a *app) writeMetrics(path string) {
	if path == "" {
		path = a.cfg.Report.MetricsFile
	}
	if path == "" {
		return
	}
	if err := a.metrics.WriteTextfile(path); err != nil {
		slog.Warn("write metrics", "path", path, "error", err)
	}
}

// checkSchema resolves and compiles a schema and prints the outcome.
func (a *app) checkSchema(ctx context.Context, arg string) int {
	if arg == "" {
		fmt.Fprintln(os.Stderr, "validata: check-schema needs a schema argument")
		return exitError
	}
	loc, err := schemaArg(arg, a.svc.Catalog())
	if err != nil {
		fmt.Fprintln(os.Stderr, "validata:", err)
		return exitError
	}

	s, err := a.svc.CheckSchema(ctx, loc, core.Options{})
	if err != nil {
		fmt.Fprintln(os.Stderr, core.FormatUserError(err))
		var se *engine.SchemaError
		var re *schema.ResolutionError
		switch {
		case errors.As(err, &se):
			for _, p := range se.Problems {
				fmt.Fprintln(os.Stderr, "  -", p)
			}
		case errors.As(err, &re) && re.Detail != "":
			fmt.Fprintln(os.Stderr, "  -", re.Detail)
		}
		return exitError
	}

	fmt.Printf("%s: %d fields, %d foreign keys, %d custom checks\n",
		s.Locator, len(s.Fields), len(s.ForeignKeys), len(s.CustomChecks))
	return exitValid
}

// listSchemas prints the catalog grouped by section.
func (a *app) listSchemas(w io.Writer, asJSON bool) error {
	reg := a.svc.Catalog()
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reg.All())
	}
	if reg.Len() == 0 {
		fmt.Fprintln(w, "no catalog configured (set CATALOG_FILE or --catalog)")
		return nil
	}
	for _, section := range reg.Sections() {
		fmt.Fprintf(w, "%s\n", section)
		for _, e := range reg.BySection(section) {
			title := e.Title
			if title == "" {
				title = e.URL
			}
			fmt.Fprintf(w, "  %-30s %s\n", e.Name, title)
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// Request building
// ----------------------------------------------------------------------------

// buildRequest turns flags and arguments into a run request. cleanup closes
// any file the request reads from and is safe to call on error.
func buildRequest(c *cli.Command) (core.Request, func(), error) {
	var closers []io.Closer
	cleanup := func() {
		for _, cl := range closers {
			cl.Close()
		}
	}

	var req core.Request
	switch {
	case c.String("schema") != "" && c.String("schema-name") != "":
		return req, cleanup, errors.New("use only one of --schema and --schema-name")
	case c.String("schema-name") != "":
		req.Schema = schema.Locator{Name: c.String("schema-name")}
	case c.String("schema") != "":
		loc, err := schemaRef(c.String("schema"))
		if err != nil {
			return req, cleanup, err
		}
		req.Schema = loc
	default:
		return req, cleanup, errors.New("a schema is required (--schema or --schema-name)")
	}

	if text := c.String("text"); text != "" {
		req.Data = source.Locator{Text: text}
	} else {
		if c.Args().Len() != 1 {
			return req, cleanup, errors.New("exactly one data argument is required")
		}
		loc, cl, err := dataRef(c.Args().First())
		if err != nil {
			return req, cleanup, err
		}
		if cl != nil {
			closers = append(closers, cl)
		}
		req.Data = loc
	}

	opts := core.Options{
		StrictHeaderOrder:  c.Bool("strict-order"),
		IgnoreHeaderCase:   c.Bool("ignore-header-case"),
		MaxFetchBytes:      c.Int64("max-fetch-bytes"),
		FetchTimeout:       c.Duration("fetch-timeout"),
		MaxRows:            c.Int("max-rows"),
		ForeignKeyResource: c.String("fk-resource"),
		Encoding:           c.String("encoding"),
	}

	if d := c.String("delimiter"); d != "" {
		r, err := parseDelimiter(d)
		if err != nil {
			return req, cleanup, err
		}
		opts.Delimiter = r
	}

	switch {
	case c.Bool("header") && c.Bool("no-header"):
		return req, cleanup, errors.New("use only one of --header and --no-header")
	case c.Bool("header"):
		v := true
		opts.Header = &v
	case c.Bool("no-header"):
		v := false
		opts.Header = &v
	}

	if fs, fd := c.String("fk-schema"), c.String("fk-data"); fs != "" || fd != "" {
		if fs == "" || fd == "" {
			return req, cleanup, errors.New("--fk-schema and --fk-data go together")
		}
		sl, err := schemaRef(fs)
		if err != nil {
			return req, cleanup, err
		}
		dl, cl, err := dataRef(fd)
		if err != nil {
			return req, cleanup, err
		}
		if cl != nil {
			closers = append(closers, cl)
		}
		opts.ForeignKeySchema, opts.ForeignKeyData = &sl, &dl
	}

	req.Options = opts
	req.Progress = func(p core.Progress) {
		slog.Debug("progress", "run_id", p.RunID, "phase", p.Phase, "rows", p.Rows)
	}
	return req, cleanup, nil
}

func isRemote(ref string) bool {
	l := strings.ToLower(ref)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://") || strings.HasPrefix(l, "s3://")
}

// schemaRef reads a local schema file or keeps a remote URL.
func schemaRef(ref string) (schema.Locator, error) {
	if isRemote(ref) {
		return schema.Locator{URL: ref}, nil
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return schema.Locator{}, fmt.Errorf("read schema: %w", err)
	}
	return schema.Locator{Body: data, Filename: filepath.Base(ref)}, nil
}

// schemaArg also accepts catalog names: an argument that is neither remote
// nor an existing file is looked up in the catalog.
func schemaArg(arg string, reg *catalog.Registry) (schema.Locator, error) {
	if _, ok := reg.Lookup(arg); ok {
		return schema.Locator{Name: arg}, nil
	}
	if _, err := os.Stat(arg); err != nil && !isRemote(arg) {
		return schema.Locator{Name: arg}, nil
	}
	return schemaRef(arg)
}

// dataRef opens a local file, stdin ("-") or keeps a remote URL.
func dataRef(ref string) (source.Locator, io.Closer, error) {
	switch {
	case isRemote(ref):
		return source.Locator{URL: ref}, nil, nil
	case ref == "-":
		return source.Locator{Upload: os.Stdin, Filename: "stdin"}, nil, nil
	}

	f, err := os.Open(ref)
	if err != nil {
		return source.Locator{}, nil, fmt.Errorf("open data: %w", err)
	}
	loc := source.Locator{Upload: f, Filename: filepath.Base(ref)}
	if st, err := f.Stat(); err == nil {
		loc.Size = st.Size()
	}
	return loc, f, nil
}

func parseDelimiter(d string) (rune, error) {
	switch strings.ToLower(d) {
	case "tab", `\t`:
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(d)
	if r == utf8.RuneError || size != len(d) {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", d)
	}
	return r, nil
}

// writeReport encodes the report as JSON to path, or stdout when empty.
func writeReport(rep *report.Report, path string, pretty bool) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create report file: %w", err)
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/validata/internal/catalog"
	"github.com/JonMunkholm/validata/internal/config"
	"github.com/JonMunkholm/validata/internal/engine"
	"github.com/JonMunkholm/validata/internal/fetch"
	"github.com/JonMunkholm/validata/internal/logging"
	"github.com/JonMunkholm/validata/internal/metrics"
	"github.com/JonMunkholm/validata/internal/report"
	"github.com/JonMunkholm/validata/internal/schema"
	"github.com/JonMunkholm/validata/internal/source"
)

// Failure stages.
const (
	StageSchema    = "schema"
	StageData      = "data"
	StageReference = "reference"
)

// Deps are the collaborators of a Service. Only Fetcher and Opener are
// required.
type Deps struct {
	// Catalog resolves schema names. nil disables name lookups.
	Catalog *catalog.Holder
	// Fetcher retrieves schema documents, possibly through a cache.
	Fetcher fetch.Fetcher
	// Opener streams data sources.
	Opener fetch.Opener

	Limiter *RunLimiter
	Metrics *metrics.Collector
	Badge   *report.BadgeConfig
}

// Service runs validations. It is safe for concurrent use; runs share
// nothing but the catalog snapshot and the limiter.
type Service struct {
	cfg     *config.Config
	catalog *catalog.Holder
	fetcher fetch.Fetcher
	opener  fetch.Opener
	limiter *RunLimiter
	metrics *metrics.Collector
	badge   *report.BadgeConfig
}

// NewService creates a Service. A nil limiter is replaced by one sized
// from cfg.
func NewService(cfg *config.Config, deps Deps) (*Service, error) {
	if deps.Fetcher == nil || deps.Opener == nil {
		return nil, errors.New("core: fetcher and opener are required")
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = NewRunLimiter(cfg.Validation.MaxConcurrent, cfg.Validation.MaxWaitTime)
	}
	return &Service{
		cfg:     cfg,
		catalog: deps.Catalog,
		fetcher: deps.Fetcher,
		opener:  deps.Opener,
		limiter: limiter,
		metrics: deps.Metrics,
		badge:   deps.Badge,
	}, nil
}

// Limiter returns the run limiter, for status and drain on shutdown.
func (s *Service) Limiter() *RunLimiter {
	return s.limiter
}

// Catalog returns the current catalog snapshot, or an empty registry.
func (s *Service) Catalog() *catalog.Registry {
	if s.catalog == nil {
		return catalog.Empty()
	}
	return s.catalog.Snapshot()
}

// CheckSchema resolves a schema and compiles it without reading any data.
// Failures are *schema.ResolutionError or *engine.SchemaError.
func (s *Service) CheckSchema(ctx context.Context, loc schema.Locator, opts Options) (*schema.Schema, error) {
	sch, err := s.schemaResolver().Resolve(ctx, loc, s.limits(opts))
	if err != nil {
		return nil, err
	}
	if _, err := engine.New(sch, engine.Options{}); err != nil {
		return nil, err
	}
	return sch, nil
}

// Validate performs one run. Resolution failures yield a report with
// StatusError; cancellation, limiter saturation and broken streams yield a
// *RunError and no report.
func (s *Service) Validate(ctx context.Context, req Request) (*report.Report, error) {
	run := &runState{
		id:       uuid.NewString(),
		schema:   req.Schema.String(),
		source:   req.Data.String(),
		started:  time.Now(),
		progress: req.Progress,
	}
	ctx = logging.WithRunID(ctx, run.id)
	run.log = logging.WithFields(ctx, "schema", run.schema, "source", run.source)
	run.set(PhasePending)

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, s.abort(run, PhasePending, err)
	}
	defer s.limiter.Release()

	if s.metrics != nil {
		s.metrics.RunsInFlight.Inc()
		defer s.metrics.RunsInFlight.Dec()
	}

	opts := s.options(req.Options)
	lim := s.limits(req.Options)

	run.set(PhaseResolving)
	in, err := s.resolve(ctx, req, lim)
	if in != nil {
		defer in.close()
	}
	if ctx.Err() != nil {
		return nil, s.abort(run, PhaseResolving, ctx.Err())
	}
	if f := in.failure(); f != nil {
		return s.fail(run, req, in, *f), nil
	}
	if err != nil {
		return nil, s.abort(run, PhaseResolving, err)
	}

	refs := map[string]*engine.Reference{}
	if in.refSchema != nil {
		ref, err := s.loadReference(ctx, in, req.Options.ForeignKeyResource, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, s.abort(run, PhaseResolving, ctx.Err())
			}
			if f := failureFor(StageReference, err); f != nil {
				return s.fail(run, req, in, *f), nil
			}
			return nil, s.abort(run, PhaseResolving, err)
		}
		refs[ref.resource] = ref.Reference
	}

	eng, err := engine.New(in.schema, engine.Options{
		StrictHeaderOrder: opts.StrictHeaderOrder,
		IgnoreHeaderCase:  opts.IgnoreHeaderCase,
		MaxRows:           opts.MaxRows,
		References:        refs,
		Progress: func(n int) {
			run.rows = n
			run.notify(Progress{Phase: PhaseStreaming, Rows: n})
		},
	})
	if err != nil {
		if f := failureFor(StageSchema, err); f != nil {
			return s.fail(run, req, in, *f), nil
		}
		return nil, s.abort(run, PhaseResolving, err)
	}

	rows, err := in.data.Rows(source.RowOptions{
		ExpectedHeader: eng.Fields(),
		IgnoreCase:     opts.IgnoreHeaderCase,
	})
	if err != nil {
		if f := failureFor(StageData, err); f != nil {
			return s.fail(run, req, in, *f), nil
		}
		return nil, s.abort(run, PhaseResolving, err)
	}

	run.set(PhaseStreaming)
	rep, err := eng.Validate(ctx, rows, sourceRef(in.data))
	if err != nil {
		if f := failureFor(StageData, overLimit(in.data, err)); f != nil && ctx.Err() == nil {
			return s.fail(run, req, in, *f), nil
		}
		return nil, s.abort(run, PhaseStreaming, err)
	}

	rep.ID = run.id
	if s.badge != nil {
		rep.Badge = report.ComputeBadge(rep, s.badge)
	}
	s.metrics.ObserveReport(rep, time.Since(run.started).Seconds())

	run.rows = rep.Counts.Rows
	run.set(PhaseCompleted)
	run.log.Info("validation completed",
		"status", rep.Status,
		"rows", rep.Counts.Rows,
		"errors", rep.Counts.Errors,
		"warnings", rep.Counts.Warnings,
		"duration", time.Since(run.started))
	return rep, nil
}

// options merges per-run options with the configured defaults.
func (s *Service) options(o Options) Options {
	v := s.cfg.Validation
	o.StrictHeaderOrder = o.StrictHeaderOrder || v.StrictHeaderOrder
	o.IgnoreHeaderCase = o.IgnoreHeaderCase || v.IgnoreHeaderCase
	switch {
	case o.MaxRows == 0:
		o.MaxRows = v.MaxRows
	case o.MaxRows < 0:
		o.MaxRows = 0
	}
	return o
}

func (s *Service) limits(o Options) fetch.Limits {
	lim := fetch.Limits{MaxBytes: o.MaxFetchBytes, Timeout: o.FetchTimeout}
	if lim.MaxBytes <= 0 {
		lim.MaxBytes = s.cfg.Fetch.MaxBytes
	}
	if lim.Timeout <= 0 {
		lim.Timeout = s.cfg.Fetch.Timeout
	}
	return lim
}

// schemaResolver binds a resolver to the current catalog snapshot.
func (s *Service) schemaResolver() *schema.Resolver {
	f := &countingFetcher{next: s.fetcher, metrics: s.metrics, target: StageSchema}
	if s.catalog == nil {
		return schema.NewResolver(nil, f)
	}
	return schema.NewResolver(s.catalog.Snapshot(), f)
}

func (s *Service) sourceResolver(target string) *source.Resolver {
	o := &countingOpener{next: s.opener, metrics: s.metrics, target: target}
	return source.NewResolver(o, s.cfg.Fetch.SniffBytes)
}

// ----------------------------------------------------------------------------
// Resolution
// ----------------------------------------------------------------------------

// inputs are the resolved artifacts of a run.
type inputs struct {
	schema *schema.Schema
	data   *source.DataSource

	refSchema *schema.Schema
	refData   *source.DataSource

	schemaErr, dataErr       error
	refSchemaErr, refDataErr error
}

func (in *inputs) close() {
	if in.data != nil {
		in.data.Close()
	}
	if in.refData != nil {
		in.refData.Close()
	}
}

// failure returns the first resolution failure in stage order: the main
// schema, the data, then the reference table.
func (in *inputs) failure() *report.Failure {
	if f := failureFor(StageSchema, in.schemaErr); f != nil {
		return f
	}
	if f := failureFor(StageData, in.dataErr); f != nil {
		return f
	}
	if f := failureFor(StageReference, in.refSchemaErr); f != nil {
		return f
	}
	return failureFor(StageReference, in.refDataErr)
}

// resolve obtains the schema, the data and the optional reference table
// concurrently. The returned error is the first failure that is not a
// resolution failure; those are recorded in inputs.
//
// The group shares ctx rather than a derived context: data bodies opened
// here are streamed after the group returns and must outlive it.
func (s *Service) resolve(ctx context.Context, req Request, lim fetch.Limits) (*inputs, error) {
	in := &inputs{}
	opts := req.Options
	dialect := source.Options{Encoding: opts.Encoding, Delimiter: opts.Delimiter, Header: opts.Header}

	var g errgroup.Group
	g.Go(func() error {
		in.schema, in.schemaErr = s.schemaResolver().Resolve(ctx, req.Schema, lim)
		return in.schemaErr
	})
	g.Go(func() error {
		in.data, in.dataErr = s.sourceResolver(StageData).Resolve(ctx, req.Data, lim, dialect)
		return in.dataErr
	})
	if opts.ForeignKeySchema != nil && opts.ForeignKeyData != nil {
		g.Go(func() error {
			in.refSchema, in.refSchemaErr = s.schemaResolver().Resolve(ctx, *opts.ForeignKeySchema, lim)
			return in.refSchemaErr
		})
		g.Go(func() error {
			in.refData, in.refDataErr = s.sourceResolver(StageReference).Resolve(ctx, *opts.ForeignKeyData, lim, source.Options{})
			return in.refDataErr
		})
	}
	return in, g.Wait()
}

type loadedReference struct {
	*engine.Reference
	resource string
}

// loadReference reads the reference table in full. resource defaults to
// the first external resource the schema points at.
func (s *Service) loadReference(ctx context.Context, in *inputs, resource string, opts Options) (*loadedReference, error) {
	if resource == "" {
		if names := in.schema.References(); len(names) > 0 {
			resource = names[0]
		}
	}
	keys := engine.ReferenceKeys(in.schema, resource)

	rows, err := in.refData.Rows(source.RowOptions{
		ExpectedHeader: in.refSchema.FieldNames(),
		IgnoreCase:     opts.IgnoreHeaderCase,
	})
	if err != nil {
		return nil, err
	}
	ref, err := engine.LoadReference(ctx, in.refSchema, rows, keys...)
	if err != nil {
		if !errors.Is(err, engine.ErrReferenceMismatch) {
			return nil, overLimit(in.refData, err)
		}
		return nil, &schema.ResolutionError{
			Kind:    schema.KindInvalid,
			Locator: in.refSchema.Locator,
			Detail:  err.Error(),
			Err:     err,
		}
	}
	logging.FromContext(ctx).Debug("reference loaded", "resource", resource, "keys", len(keys))
	return &loadedReference{Reference: ref, resource: resource}, nil
}

// failureFor converts a resolution error into a report failure. It returns
// nil for errors that are not resolution failures.
func failureFor(stage string, err error) *report.Failure {
	if err == nil {
		return nil
	}
	var kind, detail string
	var re *schema.ResolutionError
	var se *engine.SchemaError
	var de *source.SourceError
	switch {
	case errors.As(err, &re):
		kind, detail = string(re.Kind), re.Detail
	case errors.As(err, &se):
		kind, detail = string(schema.KindInvalid), se.Error()
	case errors.As(err, &de):
		kind, detail = string(de.Kind), de.Detail
	default:
		return nil
	}
	return &report.Failure{
		Stage:      stage,
		Kind:       kind,
		Code:       MapError(err).Code,
		MessageKey: fmt.Sprintf("failure.%s.%s", stage, kind),
		Detail:     detail,
	}
}

// overLimit turns a size limit tripped while rows were read into the
// too-large failure of ds. Other errors are returned unchanged.
func overLimit(ds *source.DataSource, err error) error {
	if !errors.Is(err, fetch.ErrTooLarge) {
		return err
	}
	return &source.SourceError{Kind: source.KindTooLarge, Name: ds.Name, Detail: err.Error(), Err: err}
}

func sourceRef(ds *source.DataSource) report.SourceRef {
	ref := report.SourceRef{
		Origin:   string(ds.Origin),
		Name:     ds.Name,
		Encoding: ds.Dialect.Encoding,
		Header:   ds.Dialect.Header,
	}
	if ds.Dialect.Delimiter != 0 {
		ref.Delimiter = string(ds.Dialect.Delimiter)
	}
	if ds.Dialect.Quote != 0 {
		ref.Quote = string(ds.Dialect.Quote)
	}
	return ref
}

// ----------------------------------------------------------------------------
// Run bookkeeping
// ----------------------------------------------------------------------------

type runState struct {
	id       string
	schema   string
	source   string
	started  time.Time
	rows     int
	progress ProgressCallback
	log      *slog.Logger
}

func (r *runState) set(p Phase) {
	r.log.Debug("run phase", "phase", p)
	r.notify(Progress{Phase: p, Rows: r.rows})
}

func (r *runState) notify(p Progress) {
	if r.progress == nil {
		return
	}
	p.RunID, p.Schema, p.Source = r.id, r.schema, r.source
	r.progress(p)
}

// fail builds the StatusError report of a run whose inputs could not be
// resolved.
func (s *Service) fail(run *runState, req Request, in *inputs, f report.Failure) *report.Report {
	src := report.SourceRef{Origin: string(req.Data.Origin()), Name: req.Data.String()}
	if in != nil && in.data != nil {
		src = sourceRef(in.data)
	}
	rep := report.NewFailed(run.id, report.SchemaRef{Locator: req.Schema.String()}, src, f, time.Now())
	s.metrics.ObserveReport(rep, time.Since(run.started).Seconds())

	run.log.Warn("validation failed",
		"stage", f.Stage,
		"kind", f.Kind,
		"code", f.Code,
		"detail", f.Detail)
	run.notify(Progress{Phase: PhaseFailed, Error: f.Detail})
	return rep
}

// abort ends a run without a report.
func (s *Service) abort(run *runState, phase Phase, err error) error {
	s.metrics.ObserveAborted(time.Since(run.started).Seconds())
	run.log.Warn("validation aborted", "phase", phase, "error", err)
	run.notify(Progress{Phase: PhaseFailed, Error: err.Error()})
	return &RunError{RunID: run.id, Phase: phase, Err: err}
}

// ----------------------------------------------------------------------------
// Byte accounting
// ----------------------------------------------------------------------------

type countingFetcher struct {
	next    fetch.Fetcher
	metrics *metrics.Collector
	target  string
}

func (f *countingFetcher) Fetch(ctx context.Context, rawURL string, lim fetch.Limits) ([]byte, error) {
	data, err := f.next.Fetch(ctx, rawURL, lim)
	f.metrics.AddFetched(f.target, int64(len(data)))
	return data, err
}

type countingOpener struct {
	next    fetch.Opener
	metrics *metrics.Collector
	target  string
}

func (o *countingOpener) Open(ctx context.Context, rawURL string, lim fetch.Limits) (*fetch.Body, error) {
	body, err := o.next.Open(ctx, rawURL, lim)
	if err != nil {
		return nil, err
	}
	body.Reader = &countingReader{r: body.Reader, add: func(n int) {
		o.metrics.AddFetched(o.target, int64(n))
	}}
	return body, nil
}

type countingReader struct {
	r   io.Reader
	add func(int)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.add(n)
	return n, err
}

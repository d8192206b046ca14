package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"smartshopai/provisioner/internal/manifest"
)

const instrumentationName = "smartshopai-provisioner"

// Orchestrator interprets a resolved manifest plan against the document
// database and tracks the outcome of the latest run.
type Orchestrator struct {
	connector  Connector
	plan       *manifest.Plan
	seedMode   manifest.SeedMode
	announcers []Announcer
	lock       RunLock
	ledger     Ledger
	probers    map[string]Prober
	now        func() time.Time
	newRunID   func() string
	bcryptCost int
	operations metric.Int64Counter

	bootstrapInProgress atomic.Bool
	lastResult          *BootstrapResult
	resultMu            sync.RWMutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSeedMode selects how seed documents are written. Defaults to
// manifest.SeedModeEnsure.
func WithSeedMode(mode manifest.SeedMode) Option {
	return func(o *Orchestrator) { o.seedMode = mode }
}

// WithAnnouncers sets the announcers called, in order, after a successful run.
func WithAnnouncers(a ...Announcer) Option {
	return func(o *Orchestrator) { o.announcers = append(o.announcers, a...) }
}

// WithRunLock guards each run with a cross-process lock.
func WithRunLock(l RunLock) Option {
	return func(o *Orchestrator) { o.lock = l }
}

// WithLedger records every finished run.
func WithLedger(l Ledger) Option {
	return func(o *Orchestrator) { o.ledger = l }
}

// WithProber adds a dependency to RunDeepHealth.
func WithProber(name string, p Prober) Option {
	return func(o *Orchestrator) { o.probers[name] = p }
}

// WithClock overrides time.Now, used for timestamps and $now placeholders.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRunIDs overrides the run id generator.
func WithRunIDs(gen func() string) Option {
	return func(o *Orchestrator) { o.newRunID = gen }
}

// WithBcryptCost sets the cost used for $bcrypt placeholders.
func WithBcryptCost(cost int) Option {
	return func(o *Orchestrator) { o.bcryptCost = cost }
}

// New constructs an Orchestrator for plan. The database connector is always
// probed by RunDeepHealth under the name "mongo".
func New(connector Connector, plan *manifest.Plan, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		connector: connector,
		plan:      plan,
		seedMode:  manifest.SeedModeEnsure,
		probers:   map[string]Prober{"mongo": connector},
		now:       time.Now,
		newRunID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}

	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"provisioner.operations",
		metric.WithDescription("Bootstrap create operations by phase and outcome"),
	)
	if err != nil {
		slog.Warn("creating operations counter", "err", err)
	}
	o.operations = counter

	return o
}

// Plan returns the plan this orchestrator runs.
func (o *Orchestrator) Plan() *manifest.Plan {
	return o.plan
}

// RunBootstrap runs the phases in PhaseOrder, strictly one after another
// over a single engine session. The first failing operation stops the run:
// its phase is marked error, every later phase is marked skipped and no
// announcement is made. A failed run is reported through the result, not
// the returned error, which is reserved for runs that could not start
// (ErrBootstrapInProgress, lock acquisition).
func (o *Orchestrator) RunBootstrap(ctx context.Context) (*BootstrapResult, error) {
	if !o.bootstrapInProgress.CompareAndSwap(false, true) {
		return nil, ErrBootstrapInProgress
	}
	defer o.bootstrapInProgress.Store(false)

	runID := o.newRunID()

	if o.lock != nil {
		release, err := o.lock.Acquire(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("acquiring bootstrap lock: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				slog.WarnContext(ctx, "releasing bootstrap lock", "run_id", runID, "err", err)
			}
		}()
	}

	result := &BootstrapResult{
		RunID:           runID,
		Status:          StatusInProgress,
		Topology:        string(o.plan.Topology),
		SeedMode:        string(o.seedMode),
		ManifestVersion: o.plan.Version,
		StartedAt:       o.now().UTC(),
	}

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "provisioner.bootstrap",
		trace.WithAttributes(
			attribute.String("bootstrap.run_id", runID),
			attribute.String("bootstrap.topology", result.Topology),
			attribute.String("bootstrap.seed_mode", result.SeedMode),
		))
	defer span.End()

	slog.InfoContext(ctx, "bootstrap started",
		"run_id", runID,
		"topology", result.Topology,
		"seed_mode", result.SeedMode,
		"namespaces", len(o.plan.Namespaces),
	)

	r := &run{o: o, result: result}
	runErr := r.execute(ctx)

	result.Lock()
	result.FinishedAt = o.now().UTC()
	if runErr != nil {
		result.Status = StatusError
		result.Error = runErr.Error()
		result.FailedOperation = r.failedOp
	} else {
		result.Status = StatusOK
	}
	result.Unlock()

	span.SetAttributes(attribute.String("bootstrap.status", result.Status))
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "bootstrap aborted")
		slog.ErrorContext(ctx, "bootstrap aborted",
			"run_id", runID,
			"failed_operation", result.FailedOperation,
			"err", runErr,
		)
	} else {
		span.SetStatus(codes.Ok, "")
		slog.InfoContext(ctx, "bootstrap completed", "run_id", runID, "status", result.Status)
	}

	if o.ledger != nil {
		if err := o.ledger.Record(context.WithoutCancel(ctx), result); err != nil {
			slog.WarnContext(ctx, "recording bootstrap run", "run_id", runID, "err", err)
		}
	}

	o.resultMu.Lock()
	o.lastResult = result
	o.resultMu.Unlock()

	return result, nil
}

// run carries the state of a single RunBootstrap call.
type run struct {
	o        *Orchestrator
	result   *BootstrapResult
	engine   Engine
	failedOp string
}

type phaseFunc func(ctx context.Context, p *PhaseResult) error

func (r *run) execute(ctx context.Context) error {
	defer func() {
		if r.engine == nil {
			return
		}
		if err := r.engine.Close(context.WithoutCancel(ctx)); err != nil {
			slog.WarnContext(ctx, "closing database session", "err", err)
		}
	}()

	steps := []struct {
		name string
		fn   phaseFunc
	}{
		{PhaseConnect, r.connect},
		{PhasePrincipal, r.createPrincipal},
		{PhaseNamespaces, r.selectNamespaces},
		{PhaseCollections, r.createCollections},
		{PhaseIndexes, r.createIndexes},
		{PhaseSeeds, r.insertSeeds},
		{PhaseAnnounce, r.announce},
	}

	for i, step := range steps {
		if err := r.phase(ctx, step.name, step.fn); err != nil {
			for _, rest := range steps[i+1:] {
				r.record(PhaseResult{Name: rest.name, Status: StatusSkipped})
			}
			return err
		}
	}
	return nil
}

func (r *run) phase(ctx context.Context, name string, fn phaseFunc) error {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "provisioner.phase."+name)
	defer span.End()

	start := time.Now()
	p := PhaseResult{Name: name}
	err := fn(ctx, &p)
	p.LatencyMs = time.Since(start).Milliseconds()

	if err != nil {
		p.Status = StatusError
		p.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "phase failed")
	} else {
		p.Status = StatusOK
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.Int("phase.created", p.Created),
		attribute.Int("phase.existing", p.Existing),
	)

	r.record(p)
	logPhase(ctx, p)
	return err
}

func (r *run) record(p PhaseResult) {
	r.result.Lock()
	r.result.Phases = append(r.result.Phases, p)
	r.result.Unlock()
}

// apply runs one create operation and tallies its outcome on p.
func (r *run) apply(ctx context.Context, p *PhaseResult, op string, fn func() (Outcome, error)) error {
	outcome, err := fn()
	if err != nil {
		r.failedOp = op
		return fmt.Errorf("%s: %w", op, err)
	}

	switch outcome {
	case OutcomeExisting:
		p.Existing++
	default:
		p.Created++
	}
	if r.o.operations != nil {
		r.o.operations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("phase", p.Name),
			attribute.String("outcome", outcome.String()),
		))
	}
	slog.DebugContext(ctx, "operation applied", "op", op, "outcome", outcome.String())
	return nil
}

func (r *run) connect(ctx context.Context, p *PhaseResult) error {
	engine, err := r.o.connector.Connect(ctx)
	if err != nil {
		r.failedOp = "connect"
		return fmt.Errorf("connect: %w", err)
	}
	r.engine = engine
	return nil
}

func (r *run) createPrincipal(ctx context.Context, p *PhaseResult) error {
	principal := r.o.plan.Principal
	op := fmt.Sprintf("create_principal %s@%s", principal.Name, principal.Database)
	return r.apply(ctx, p, op, func() (Outcome, error) {
		return r.engine.CreatePrincipal(ctx, principal)
	})
}

func (r *run) selectNamespaces(ctx context.Context, p *PhaseResult) error {
	for _, ns := range r.o.plan.Namespaces {
		if err := r.apply(ctx, p, "select_namespace "+ns, func() (Outcome, error) {
			return r.engine.SelectNamespace(ctx, ns)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) createCollections(ctx context.Context, p *PhaseResult) error {
	for _, c := range r.o.plan.Collections {
		if err := r.apply(ctx, p, "create_collection "+c.String(), func() (Outcome, error) {
			return r.engine.CreateCollection(ctx, c.Namespace, c.Name)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) createIndexes(ctx context.Context, p *PhaseResult) error {
	for _, spec := range r.o.plan.Indexes {
		if err := r.apply(ctx, p, "create_index "+spec.String(), func() (Outcome, error) {
			return r.engine.CreateIndex(ctx, spec)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) insertSeeds(ctx context.Context, p *PhaseResult) error {
	opts := manifest.ExpandOptions{Now: r.result.StartedAt, BcryptCost: r.o.bcryptCost}
	for _, seed := range r.o.plan.Seeds {
		op := "insert_document " + seed.String()
		doc, err := seed.Document.Expand(opts)
		if err != nil {
			r.failedOp = op
			return fmt.Errorf("%s: expanding placeholders: %w", op, err)
		}
		if err := r.apply(ctx, p, op, func() (Outcome, error) {
			return r.engine.InsertDocument(ctx, seed.Namespace, seed.Collection, doc, r.o.seedMode)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) announce(ctx context.Context, p *PhaseResult) error {
	// Announcers observe a completed run.
	r.result.Lock()
	r.result.Status = StatusOK
	r.result.FinishedAt = r.o.now().UTC()
	r.result.Unlock()

	for _, a := range r.o.announcers {
		if err := a.Announce(ctx, r.result); err != nil {
			r.failedOp = "announce_completion"
			return fmt.Errorf("announce_completion: %w", err)
		}
		p.Created++
	}
	return nil
}

// RunDeepHealth probes every registered dependency concurrently and returns
// a map of dependency name to ProbeResult.
func (o *Orchestrator) RunDeepHealth(ctx context.Context) map[string]ProbeResult {
	results := make(map[string]ProbeResult, len(o.probers))
	var mu sync.Mutex
	var g errgroup.Group

	for name, p := range o.probers {
		g.Go(func() error {
			probe := p.Probe(ctx)
			mu.Lock()
			results[name] = probe
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// IsBootstrapInProgress returns true while a bootstrap run is active.
func (o *Orchestrator) IsBootstrapInProgress() bool {
	return o.bootstrapInProgress.Load()
}

// IsReady returns true if the last bootstrap completed with StatusOK.
func (o *Orchestrator) IsReady() bool {
	o.resultMu.RLock()
	defer o.resultMu.RUnlock()
	return o.lastResult != nil && o.lastResult.Status == StatusOK
}

// LastResult returns the most recent finished run, or nil.
func (o *Orchestrator) LastResult() *BootstrapResult {
	o.resultMu.RLock()
	defer o.resultMu.RUnlock()
	return o.lastResult
}

// logPhase emits a trace-correlated log for a bootstrap phase result.
func logPhase(ctx context.Context, p PhaseResult) {
	if p.Status == StatusOK {
		slog.InfoContext(ctx, "bootstrap phase ok",
			"phase", p.Name,
			"created", p.Created,
			"existing", p.Existing,
			"latency_ms", p.LatencyMs,
		)
		return
	}
	slog.ErrorContext(ctx, "bootstrap phase failed", "phase", p.Name, "error", p.Error)
}

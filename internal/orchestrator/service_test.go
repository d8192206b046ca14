package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartshopai/provisioner/internal/manifest"
)

// --- mock implementations ---

type mockAnnouncer struct {
	mu    sync.Mutex
	err   error
	calls []*BootstrapResult
}

func (m *mockAnnouncer) Announce(_ context.Context, r *BootstrapResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, r)
	return m.err
}

func (m *mockAnnouncer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockLock struct {
	err      error
	acquired []string
	released int
}

func (m *mockLock) Acquire(_ context.Context, runID string) (func(context.Context) error, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.acquired = append(m.acquired, runID)
	return func(context.Context) error {
		m.released++
		return nil
	}, nil
}

type mockLedger struct {
	err     error
	records []*BootstrapResult
}

func (m *mockLedger) Record(_ context.Context, r *BootstrapResult) error {
	m.records = append(m.records, r)
	return m.err
}

type mockProber struct {
	result ProbeResult
}

func (m *mockProber) Probe(_ context.Context) ProbeResult { return m.result }

// blockingConnector blocks Connect until released, to hold a run open.
type blockingConnector struct {
	*memServer
	ready chan struct{} // closed when Connect is entered
	done  chan struct{} // close to unblock Connect
}

func (b *blockingConnector) Connect(ctx context.Context) (Engine, error) {
	close(b.ready)
	<-b.done
	return b.memServer.Connect(ctx)
}

// --- helpers ---

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func defaultPlan(t *testing.T, topology manifest.Topology) *manifest.Plan {
	t.Helper()
	m, err := manifest.Default()
	require.NoError(t, err)
	plan, err := m.Resolve(topology)
	require.NoError(t, err)
	return plan
}

func newTestOrchestrator(conn Connector, plan *manifest.Plan, opts ...Option) *Orchestrator {
	base := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithRunIDs(func() string { return "run-1" }),
	}
	return New(conn, plan, append(base, opts...)...)
}

func phaseStatuses(r *BootstrapResult) map[string]string {
	out := make(map[string]string, len(r.Phases))
	for _, p := range r.Phases {
		out[p.Name] = p.Status
	}
	return out
}

// --- RunBootstrap ---

func TestRunBootstrap_FreshSingleNamespace(t *testing.T) {
	t.Parallel()

	srv := newMemServer()
	ann := &mockAnnouncer{}
	o := newTestOrchestrator(srv, defaultPlan(t, manifest.TopologySingle), WithAnnouncers(ann))

	result, err := o.RunBootstrap(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, StatusOK, result.Status)
	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, "single-namespace", result.Topology)
	assert.Equal(t, "ensure", result.SeedMode)
	assert.Empty(t, result.Error)
	assert.Empty(t, result.FailedOperation)
	require.Len(t, result.Phases, len(PhaseOrder))
	for i, p := range result.Phases {
		assert.Equal(t, PhaseOrder[i], p.Name)
		assert.Equal(t, StatusOK, p.Status, "phase %s", p.Name)
	}

	tests := []struct {
		phase   string
		created int
	}{
		{PhasePrincipal, 1},
		{PhaseNamespaces, 1},
		{PhaseCollections, 22},
		{PhaseIndexes, 22},
		{PhaseSeeds, 2},
		{PhaseAnnounce, 1},
	}
	for _, tt := range tests {
		p, ok := result.Phase(tt.phase)
		require.True(t, ok, tt.phase)
		assert.Equal(t, tt.created, p.Created, tt.phase)
		assert.Zero(t, p.Existing, tt.phase)
	}

	assert.Len(t, srv.collectionNames("smartshopai"), 22)
	assert.Equal(t, 2, srv.totalDocs())
	assert.Equal(t, 1, ann.count())
	assert.Equal(t, 1, srv.closes)
	assert.True(t, o.IsReady())
	assert.Same(t, result, o.LastResult())
}

func TestRunBootstrap_IndexesMatchPlanExactly(t *testing.T) {
	t.Parallel()

	srv := newMemServer()
	plan := defaultPlan(t, manifest.TopologySingle)
	o := newTestOrchestrator(srv, plan)

	want := make([]string, 0, len(plan.Indexes))
	var wantUnique []string
	for _, idx := range plan.Indexes {
		want = append(want, idx.String())
		if idx.Unique {
			wantUnique = append(wantUnique, idx.String())
		}
	}
	sort.Strings(want)
	sort.Strings(wantUnique)

	assert.Equal(t, []string{
		"smartshopai.products{productId:asc} unique",
		"smartshopai.users{email:asc} unique",
		"smartshopai.users{username:asc} unique",
	}, wantUnique)

	for run := 1; run <= 2; run++ {
		result, err := o.RunBootstrap(context.Background())
		require.NoError(t, err)
		require.Equal(t, StatusOK, result.Status)

		// one index per declaration, with its declared uniqueness, on every run
		assert.Equal(t, want, srv.indexSpecs(), "run %d", run)
	}
}

func TestRunBootstrap_FreshPerServiceNamespaces(t *testing.T) {
	t.Parallel()

	srv := newMemServer()
	o := newTestOrchestrator(srv, defaultPlan(t, manifest.TopologyPerService))

	result, err := o.RunBootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, result.Status)

	ns, _ := result.Phase(PhaseNamespaces)
	assert.Equal(t, 10, ns.Created)
	colls, _ := result.Phase(PhaseCollections)
	assert.Equal(t, 32, colls.Created)

	// services without their own collections still get the placeholder
	assert.Equal(t, []string{"init"}, srv.collectionNames("smartshopai_search"))
	assert.Contains(t, srv.collectionNames("smartshopai_users"), "users")
	assert.Contains(t, srv.collectionNames("smartshopai_users"), "init")
}

func TestRunBootstrap_RerunEnsureIsNoOp(t *testing.T) {
	t.Parallel()

	srv := newMemServer()
	ann := &mockAnnouncer{}
	o := newTestOrchestrator(srv, defaultPlan(t, manifest.TopologySingle), WithAnnouncers(ann))

	_, err := o.RunBootstrap(context.Background())
	require.NoError(t, err)
	second, err := o.RunBootstrap(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusOK, second.Status)
	for _, name := range []string{PhasePrincipal, PhaseNamespaces, PhaseCollections, PhaseIndexes, PhaseSeeds} {
		p, _ := second.Phase(name)
		assert.Zero(t, p.Created, name)
		assert.Positive(t, p.Existing, name)
	}
	assert.Equal(t, 2, srv.totalDocs())
	assert.Equal(t, 2, ann.count())
}

func TestRunBootstrap_RerunInsertFailsOnSeeds(t *testing.T) {
	t.Parallel()

	srv := newMemServer()
	ann := &mockAnnouncer{}
	o := newTestOrchestrator(srv, defaultPlan(t, manifest.TopologySingle),
		WithSeedMode(manifest.SeedModeInsert), WithAnnouncers(ann))

	first, err := o.RunBootstrap(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusOK, first.Status)

	second, err := o.RunBootstrap(context.Background())
	require.NoError(t, err, "a failed run is reported through the result")

	assert.Equal(t, StatusError, second.Status)
	assert.Equal(t, "insert_document smartshopai.users[user-001]", second.FailedOperation)
	assert.Contains(t, second.Error, "duplicate key")

	statuses := phaseStatuses(second)
	assert.Equal(t, StatusOK, statuses[PhaseIndexes])
	assert.Equal(t, StatusError, statuses[PhaseSeeds])
	assert.Equal(t, StatusSkipped, statuses[PhaseAnnounce])

	assert.Equal(t, 1, ann.count(), "failed run must not announce")
	assert.Equal(t, 2, srv.totalDocs())
	assert.False(t, o.IsReady())
}

func TestRunBootstrap_UniqueIndexRejectsDuplicateSeed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		collection string
		doc        manifest.Document
	}{
		{
			name:       "duplicate email",
			collection: "users",
			doc: manifest.Document{
				{Key: "_id", Value: "user-002"},
				{Key: "username", Value: "other"},
				{Key: "email", Value: "test@smartshopai.com"},
			},
		},
		{
			name:       "duplicate productId",
			collection: "products",
			doc: manifest.Document{
				{Key: "_id", Value: "product-002"},
				{Key: "productId", Value: "PROD-001"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			plan := defaultPlan(t, manifest.TopologySingle)
			plan.Seeds = append(plan.Seeds, manifest.Seed{
				Namespace:  "smartshopai",
				Collection: tt.collection,
				Document:   tt.doc,
			})

			srv := newMemServer()
			o := newTestOrchestrator(srv, plan)

			result, err := o.RunBootstrap(context.Background())
			require.NoError(t, err)
			assert.Equal(t, StatusError, result.Status)
			assert.Contains(t, result.FailedOperation, "insert_document smartshopai."+tt.collection)
			assert.Equal(t, 2, srv.totalDocs())
		})
	}
}

func TestRunBootstrap_IndexOnMissingCollection(t *testing.T) {
	t.Parallel()

	plan := defaultPlan(t, manifest.TopologySingle)
	plan.Indexes = append([]manifest.IndexSpec{{
		Namespace:  "smartshopai",
		Collection: "ghosts",
		Keys:       []manifest.IndexKey{{Field: "name", Kind: manifest.KindAsc}},
	}}, plan.Indexes...)

	srv := newMemServer()
	o := newTestOrchestrator(srv, plan)

	result, err := o.RunBootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, "create_index smartshopai.ghosts{name:asc}", result.FailedOperation)

	statuses := phaseStatuses(result)
	assert.Equal(t, StatusError, statuses[PhaseIndexes])
	assert.Equal(t, StatusSkipped, statuses[PhaseSeeds])
	assert.Zero(t, srv.totalDocs())
}

func TestRunBootstrap_PrincipalConflict(t *testing.T) {
	t.Parallel()

	plan := defaultPlan(t, manifest.TopologySingle)
	srv := newMemServer()
	srv.principals[plan.Principal.Database+"."+plan.Principal.Name] = manifest.Principal{
		Name:     plan.Principal.Name,
		Database: plan.Principal.Database,
		Roles:    []manifest.Role{{Role: "read", DB: "smartshopai"}},
	}

	o := newTestOrchestrator(srv, plan)
	result, err := o.RunBootstrap(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, "create_principal smartshopai_user@admin", result.FailedOperation)
	p, _ := result.Phase(PhasePrincipal)
	assert.Contains(t, p.Error, ErrPrincipalConflict.Error())
	assert.Empty(t, srv.collectionNames("smartshopai"))
	assert.Equal(t, 1, srv.closes)
}

func TestRunBootstrap_ConnectFailure(t *testing.T) {
	t.Parallel()

	srv := newMemServer()
	srv.connectErr = errors.New("connection refused")
	ann := &mockAnnouncer{}
	o := newTestOrchestrator(srv, defaultPlan(t, manifest.TopologySingle), WithAnnouncers(ann))

	result, err := o.RunBootstrap(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, "connect", result.FailedOperation)
	assert.Contains(t, result.Error, "connection refused")
	require.Len(t, result.Phases, len(PhaseOrder))
	assert.Equal(t, StatusError, result.Phases[0].Status)
	for _, p := range result.Phases[1:] {
		assert.Equal(t, StatusSkipped, p.Status, p.Name)
	}
	assert.Zero(t, srv.closes, "no session to close")
	assert.Zero(t, ann.count())
}

func TestRunBootstrap_AnnouncerFailure(t *testing.T) {
	t.Parallel()

	first := &mockAnnouncer{err: errors.New("stream unavailable")}
	second := &mockAnnouncer{}
	srv := newMemServer()
	o := newTestOrchestrator(srv, defaultPlan(t, manifest.TopologySingle), WithAnnouncers(first, second))

	result, err := o.RunBootstrap(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusError, result.Status)
	assert.Equal(t, "announce_completion", result.FailedOperation)
	assert.Equal(t, 1, first.count())
	assert.Zero(t, second.count(), "later announcers are not called")
	assert.False(t, o.IsReady())
}

func TestRunBootstrap_SeedTimestampsUseClock(t *testing.T) {
	t.Parallel()

	srv := newMemServer()
	o := newTestOrchestrator(srv, defaultPlan(t, manifest.TopologySingle))

	_, err := o.RunBootstrap(context.Background())
	require.NoError(t, err)

	users := srv.collection("smartshopai", "users")
	require.NotNil(t, users)
	require.Len(t, users.docs, 1)
	created, ok := users.docs[0].Get("createdAt")
	require.True(t, ok)
	assert.Equal(t, fixedNow, created)
}

func TestRunBootstrap_ConcurrentGuard(t *testing.T) {
	t.Parallel()

	conn := &blockingConnector{
		memServer: newMemServer(),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	o := newTestOrchestrator(conn, defaultPlan(t, manifest.TopologySingle))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = o.RunBootstrap(context.Background())
	}()

	<-conn.ready
	assert.True(t, o.IsBootstrapInProgress())

	result, err := o.RunBootstrap(context.Background())
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrBootstrapInProgress)

	close(conn.done)
	wg.Wait()
	assert.False(t, o.IsBootstrapInProgress())
	assert.True(t, o.IsReady())
}

func TestRunBootstrap_LockHeld(t *testing.T) {
	t.Parallel()

	srv := newMemServer()
	lock := &mockLock{err: ErrLockHeld}
	o := newTestOrchestrator(srv, defaultPlan(t, manifest.TopologySingle), WithRunLock(lock))

	result, err := o.RunBootstrap(context.Background())
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.Zero(t, srv.connects)
	assert.False(t, o.IsBootstrapInProgress(), "guard released after lock failure")
}

func TestRunBootstrap_LockReleasedAfterRun(t *testing.T) {
	t.Parallel()

	lock := &mockLock{}
	o := newTestOrchestrator(newMemServer(), defaultPlan(t, manifest.TopologySingle), WithRunLock(lock))

	_, err := o.RunBootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, lock.acquired)
	assert.Equal(t, 1, lock.released)
}

func TestRunBootstrap_Ledger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		ledgerErr error
	}{
		{name: "recorded", ledgerErr: nil},
		{name: "ledger failure is not fatal", ledgerErr: errors.New("pg down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ledger := &mockLedger{err: tt.ledgerErr}
			o := newTestOrchestrator(newMemServer(), defaultPlan(t, manifest.TopologySingle), WithLedger(ledger))

			result, err := o.RunBootstrap(context.Background())
			require.NoError(t, err)
			assert.Equal(t, StatusOK, result.Status)
			require.Len(t, ledger.records, 1)
			assert.Same(t, result, ledger.records[0])
			assert.True(t, o.IsReady())
		})
	}
}

// --- RunDeepHealth ---

func TestRunDeepHealth(t *testing.T) {
	t.Parallel()

	srv := newMemServer()
	o := newTestOrchestrator(srv, defaultPlan(t, manifest.TopologySingle),
		WithProber("nats", &mockProber{result: ProbeResult{Name: "nats", OK: true}}),
		WithProber("redis", &mockProber{result: ProbeResult{Name: "redis", OK: false, Error: "timeout"}}),
	)

	results := o.RunDeepHealth(context.Background())
	require.Len(t, results, 3)
	assert.True(t, results["mongo"].OK)
	assert.True(t, results["nats"].OK)
	assert.False(t, results["redis"].OK)
	assert.Equal(t, "timeout", results["redis"].Error)
}

func TestIsReady_BeforeAnyRun(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(newMemServer(), defaultPlan(t, manifest.TopologySingle))
	assert.False(t, o.IsReady())
	assert.Nil(t, o.LastResult())
}

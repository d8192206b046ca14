package orchestrator

import (
	"context"
	"errors"

	"smartshopai/provisioner/internal/manifest"
)

var (
	// ErrBootstrapInProgress is returned when RunBootstrap is called while a
	// bootstrap is already running in this process.
	ErrBootstrapInProgress = errors.New("bootstrap already in progress")

	// ErrLockHeld is returned by a RunLock when another process holds the
	// bootstrap lock.
	ErrLockHeld = errors.New("bootstrap lock held by another run")

	// ErrPrincipalConflict means the principal exists with a different role set.
	ErrPrincipalConflict = errors.New("principal exists with a different role set")

	// ErrCollectionMissing means an index was requested on a collection that
	// has not been created.
	ErrCollectionMissing = errors.New("collection does not exist")

	// ErrDuplicateKey means an insert collided with a unique index.
	ErrDuplicateKey = errors.New("duplicate key")
)

// Engine is one live administrative session against the document database.
// Every create operation reports OutcomeExisting instead of failing when the
// resource is already present in a compatible form.
type Engine interface {
	CreatePrincipal(ctx context.Context, p manifest.Principal) (Outcome, error)
	SelectNamespace(ctx context.Context, namespace string) (Outcome, error)
	CreateCollection(ctx context.Context, namespace, name string) (Outcome, error)
	CreateIndex(ctx context.Context, spec manifest.IndexSpec) (Outcome, error)
	InsertDocument(ctx context.Context, namespace, collection string, doc manifest.Document, mode manifest.SeedMode) (Outcome, error)
	Close(ctx context.Context) error
}

// Connector opens Engine sessions and probes the database. Satisfied by
// *clients.MongoClient.
type Connector interface {
	Connect(ctx context.Context) (Engine, error)
	Probe(ctx context.Context) ProbeResult
}

// Announcer acknowledges a completed bootstrap. Satisfied by
// *clients.StdoutAnnouncer and *clients.NATSClient.
type Announcer interface {
	Announce(ctx context.Context, result *BootstrapResult) error
}

// RunLock serialises bootstrap runs across processes. Satisfied by
// *clients.RedisClient.
type RunLock interface {
	Acquire(ctx context.Context, runID string) (release func(context.Context) error, err error)
}

// Ledger records finished runs. Satisfied by *clients.PostgresClient.
type Ledger interface {
	Record(ctx context.Context, result *BootstrapResult) error
}

// Prober is any dependency that can report its health.
type Prober interface {
	Probe(ctx context.Context) ProbeResult
}

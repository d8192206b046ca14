package orchestrator

import (
	"sync"
	"time"
)

// Status values used across BootstrapResult and PhaseResult.
const (
	StatusOK         = "ok"
	StatusError      = "error"
	StatusInProgress = "in-progress"
	StatusSkipped    = "skipped"
)

// Phase names in execution order.
const (
	PhaseConnect     = "connect"
	PhasePrincipal   = "principal"
	PhaseNamespaces  = "namespaces"
	PhaseCollections = "collections"
	PhaseIndexes     = "indexes"
	PhaseSeeds       = "seeds"
	PhaseAnnounce    = "announce"
)

// PhaseOrder is the fixed bootstrap sequence.
var PhaseOrder = []string{
	PhaseConnect,
	PhasePrincipal,
	PhaseNamespaces,
	PhaseCollections,
	PhaseIndexes,
	PhaseSeeds,
	PhaseAnnounce,
}

// BootstrapResult is the aggregate result of a full bootstrap run.
// The embedded mutex guards Status and Phases while the run is being
// observed from the HTTP API.
type BootstrapResult struct {
	sync.Mutex
	RunID           string        `json:"runId"`
	Status          string        `json:"status"` // "ok", "error", "in-progress"
	Topology        string        `json:"topology"`
	SeedMode        string        `json:"seedMode"`
	ManifestVersion int           `json:"manifestVersion"`
	Phases          []PhaseResult `json:"phases"`
	FailedOperation string        `json:"failedOperation,omitempty"`
	Error           string        `json:"error,omitempty"`
	StartedAt       time.Time     `json:"startedAt"`
	FinishedAt      time.Time     `json:"finishedAt,omitempty"`
}

// Phase returns the named phase result.
func (r *BootstrapResult) Phase(name string) (PhaseResult, bool) {
	for _, p := range r.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseResult{}, false
}

// PhaseResult represents the outcome of a single bootstrap phase.
// Created counts resources this run made; Existing counts operations that
// found the resource already present and did nothing.
type PhaseResult struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok", "error", "skipped"
	Created   int    `json:"created"`
	Existing  int    `json:"existing"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// ProbeResult is returned by RunDeepHealth for each dependency.
type ProbeResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// Outcome is what a single create operation did.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeExisting
)

func (o Outcome) String() string {
	if o == OutcomeExisting {
		return "existing"
	}
	return "created"
}

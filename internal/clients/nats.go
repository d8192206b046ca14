package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"

	"smartshopai/provisioner/internal/config"
	"smartshopai/provisioner/internal/orchestrator"
)

const natsProbeName = "nats"

// eventStream is the JetStream stream that retains provisioning events.
var eventStream = streamSpec{
	name:      "PROVISIONING_EVENTS",
	subjects:  []string{config.EventSubjectPrefix + ">"},
	retention: nats.LimitsPolicy,
	maxAge:    30 * 24 * time.Hour,
}

// streamSpec describes a single JetStream stream to provision.
type streamSpec struct {
	name      string
	subjects  []string
	retention nats.RetentionPolicy
	maxAge    time.Duration
}

// jsContext is the subset of nats.JetStreamContext used by NATSClient.
type jsContext interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// completionEvent is the JSON payload published after a successful run.
type completionEvent struct {
	RunID           string                     `json:"runId"`
	Status          string                     `json:"status"`
	Topology        string                     `json:"topology"`
	SeedMode        string                     `json:"seedMode"`
	ManifestVersion int                        `json:"manifestVersion"`
	Phases          []orchestrator.PhaseResult `json:"phases"`
	StartedAt       time.Time                  `json:"startedAt"`
	FinishedAt      time.Time                  `json:"finishedAt"`
}

// NATSClient announces completed bootstraps on a JetStream subject and
// probes NATS health.
type NATSClient struct {
	url     string
	subject string
	cb      *gobreaker.CircuitBreaker
	newJS   func(url string) (jsContext, func(), error)
}

// NewNATSClient constructs a NATSClient. Connections are opened lazily
// inside Announce and Probe.
func NewNATSClient(cfg config.NATSConfig, cb *gobreaker.CircuitBreaker) *NATSClient {
	return &NATSClient{
		url:     cfg.URL,
		subject: cfg.Subject,
		cb:      cb,
		newJS:   realNewJS,
	}
}

// Announce ensures the event stream exists and publishes a completion event
// for result, waiting for the JetStream ack.
func (c *NATSClient) Announce(ctx context.Context, result *orchestrator.BootstrapResult) error {
	result.Lock()
	payload, err := json.Marshal(completionEvent{
		RunID:           result.RunID,
		Status:          result.Status,
		Topology:        result.Topology,
		SeedMode:        result.SeedMode,
		ManifestVersion: result.ManifestVersion,
		Phases:          result.Phases,
		StartedAt:       result.StartedAt,
		FinishedAt:      result.FinishedAt,
	})
	result.Unlock()
	if err != nil {
		return fmt.Errorf("encoding completion event: %w", err)
	}

	_, err = c.cb.Execute(func() (any, error) {
		js, cleanup, err := c.newJS(c.url)
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		defer cleanup()

		if err := provisionStream(js, eventStream); err != nil {
			return nil, err
		}
		if _, err := js.Publish(c.subject, payload, nats.Context(ctx), nats.MsgId(result.RunID)); err != nil {
			return nil, fmt.Errorf("publishing %s: %w", c.subject, err)
		}
		return nil, nil
	})
	return breakerErr(err)
}

// Probe verifies NATS connectivity. A missing stream is not a failure; it
// is created by the first Announce.
func (c *NATSClient) Probe(ctx context.Context) orchestrator.ProbeResult {
	start := time.Now()

	_, err := c.cb.Execute(func() (any, error) {
		js, cleanup, err := c.newJS(c.url)
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS: %w", err)
		}
		defer cleanup()

		_, infoErr := js.StreamInfo(eventStream.name, nats.Context(ctx))
		if infoErr != nil && !errors.Is(infoErr, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("stream info: %w", infoErr)
		}
		return nil, nil
	})

	return probeResult(natsProbeName, start, err)
}

// provisionStream creates the stream if it does not exist, or updates it if it
// does. nats.ErrStreamNotFound signals "create"; any other error is returned.
func provisionStream(js jsContext, spec streamSpec) error {
	cfg := &nats.StreamConfig{
		Name:      spec.name,
		Subjects:  spec.subjects,
		Retention: spec.retention,
		MaxAge:    spec.maxAge,
	}

	_, err := js.StreamInfo(spec.name)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, addErr := js.AddStream(cfg); addErr != nil {
			return fmt.Errorf("creating stream %s: %w", spec.name, addErr)
		}
	case err != nil:
		return fmt.Errorf("querying stream %s: %w", spec.name, err)
	default:
		if _, updErr := js.UpdateStream(cfg); updErr != nil {
			return fmt.Errorf("updating stream %s: %w", spec.name, updErr)
		}
	}
	return nil
}

// realNewJS opens a real NATS connection and returns a JetStreamContext plus a
// cleanup function that closes the connection.
func realNewJS(url string) (jsContext, func(), error) {
	nc, err := nats.Connect(url, nats.Name("smartshopai-provisioner"))
	if err != nil {
		return nil, func() {}, fmt.Errorf("nats connect %s: %w", url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, func() {}, fmt.Errorf("nats jetstream context: %w", err)
	}

	return js, func() { nc.Close() }, nil
}

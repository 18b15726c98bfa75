package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mukut03/agents/agents"
	"github.com/mukut03/agents/config"
	"github.com/mukut03/agents/framework"
	"github.com/mukut03/agents/llm"
	"github.com/mukut03/agents/logging"
	"github.com/mukut03/agents/metrics"
	"github.com/mukut03/agents/persistence"
	"github.com/mukut03/agents/tools"
)

// Options overrides pieces of the runtime, mainly for tests.
type Options struct {
	// LogOutput defaults to stderr.
	LogOutput io.Writer
	// Registerer defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Model replaces the Ollama client. It is still instrumented.
	Model framework.LanguageModel
	// Store replaces the store selected by the storage section.
	Store persistence.SnapshotStore
}

// Runtime wires the CLI and API server to the shared orchestration core. It
// owns the model client, the tool registry, telemetry sinks and the snapshot
// store; orchestrators are created per conversation with NewOrchestrator.
type Runtime struct {
	Config    *config.Config
	Tools     *framework.ToolRegistry
	Model     framework.LanguageModel
	Logger    *log.Logger
	Telemetry framework.Telemetry
	Metrics   *metrics.Metrics
	Store     persistence.SnapshotStore

	closers []io.Closer
}

// New builds a runtime from cfg, which must already be validated.
func New(cfg *config.Config, opts Options) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		JSON:   cfg.Logging.JSON,
		Prefix: "mapagent",
		Output: opts.LogOutput,
	})
	r := &Runtime{Config: cfg, Logger: logger}

	sinks := []framework.Telemetry{framework.LoggerTelemetry{Logger: logger}}
	if path := cfg.Logging.TelemetryFile; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create telemetry directory: %w", err)
		}
		sink, err := framework.NewJSONFileTelemetry(path)
		if err != nil {
			return nil, fmt.Errorf("open telemetry file: %w", err)
		}
		sinks = append(sinks, sink)
		r.closers = append(r.closers, sink)
	}
	r.Telemetry = framework.MultiplexTelemetry{Sinks: sinks}

	reg := opts.Registerer
	if reg == nil {
		r.Metrics = metrics.Default()
	} else {
		r.Metrics = metrics.MustNew(reg)
	}

	registry := framework.NewToolRegistry()
	if err := tools.RegisterBuiltins(registry); err != nil {
		r.Close()
		return nil, fmt.Errorf("register builtin tools: %w", err)
	}
	r.Tools = registry

	inner := opts.Model
	if inner == nil {
		client := llm.NewClient(cfg.LLM.Endpoint, cfg.LLM.Model)
		client.MaxRetries = cfg.LLM.MaxRetries
		client.Logger = logger.WithPrefix("ollama")
		client.Debug = cfg.Logging.Debug
		if cfg.LLM.Timeout > 0 {
			client.SetHTTPClient(&http.Client{Timeout: cfg.LLM.Timeout})
		}
		inner = client
	}
	r.Model = llm.NewInstrumentedModel(inner, r.Telemetry, r.Metrics, cfg.Logging.Debug)

	store := opts.Store
	if store == nil {
		var err error
		store, err = persistence.Open(cfg.Storage)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("open snapshot store: %w", err)
		}
	}
	r.Store = store
	r.closers = append(r.closers, store)
	return r, nil
}

// NewOrchestrator builds an orchestrator over mem configured from the agent
// section. A nil mem starts an empty conversation.
func (r *Runtime) NewOrchestrator(mem *framework.Memory) *agents.Orchestrator {
	if mem == nil {
		mem = framework.NewMemory(r.Config.Agent.MemoryMaxMessages)
	}
	o := agents.NewOrchestrator(r.Model, r.Tools, mem)
	o.MaxIterations = r.Config.Agent.MaxIterations
	o.Stream = r.Config.LLM.Stream
	o.Options = r.Config.LLMOptions()
	o.SystemPrompt = agents.BuildSystemPrompt(r.Config.Agent.SystemPrompt, r.Tools.Specs())
	o.Extractor = &agents.ActionExtractor{Lenient: r.Config.Agent.LenientRepair, Logger: r.Logger}
	o.Injector.Logger = r.Logger
	o.Telemetry = r.Telemetry
	o.Metrics = r.Metrics
	o.Logger = r.Logger
	return o
}

// LoadMemory restores a conversation, or starts an empty one when nothing has
// been stored under id.
func (r *Runtime) LoadMemory(ctx context.Context, id string) (*framework.Memory, error) {
	snap, err := r.Store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return framework.NewMemory(r.Config.Agent.MemoryMaxMessages), nil
	}
	return framework.RestoreSnapshot(snap)
}

// SaveMemory persists a conversation snapshot under id.
func (r *Runtime) SaveMemory(ctx context.Context, id string, mem *framework.Memory) error {
	if mem == nil {
		return errors.New("memory required")
	}
	return r.Store.Save(ctx, id, mem.Snapshot())
}

// Close releases the telemetry file and the snapshot store.
func (r *Runtime) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

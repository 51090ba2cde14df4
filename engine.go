package flasharb

import (
	"context"
	"log"
	"time"

	"github.com/flowstate-labs/flasharbgo/internal/outcome"
	"github.com/flowstate-labs/flasharbgo/internal/state"
	"github.com/flowstate-labs/flasharbgo/pkg/chain"
	"github.com/flowstate-labs/flasharbgo/pkg/txbuilder"
)

// defaultEventBuffer sizes the Engine's event channel. One polling round
// against a modest pool count fits comfortably; a full channel would mean
// the Engine fell behind its own polling interval, which observeEvent's
// metrics make visible long before this bound matters.
const defaultEventBuffer = 256

// EngineConfig wires every collaborator component A-H needs (§2, §5).
type EngineConfig struct {
	Pools             []*PoolDescriptor
	Transport         chain.Transport
	SnapshotterConfig SnapshotterConfig
	DetectorConfig    DetectorConfig
	AnalyzerConfig    AnalyzerConfig
	ExecutorConfig    ExecutorConfig

	Builder txbuilder.Builder
	Signer  txbuilder.Signer

	// Keeper, Outcomes, Mirror, and Decoder may be nil for report/simulate-only
	// deployments, or deployments that skip the optional MySQL mirror or
	// confirmed-log decoding.
	Keeper   *state.Keeper
	Outcomes *outcome.Store
	Mirror   OutcomeMirror
	Decoder  ReceiptDecoder

	// EventBuffer overrides defaultEventBuffer; zero keeps the default.
	EventBuffer int
}

// Engine is the single-threaded cooperative event loop that owns components
// A, B, E, and F, driving data through A -> B -> E -> F(-> G/H on submit)
// per §5's concurrency model. All of this runs on the goroutine that calls
// Run; pkg/txlistener polls for a receipt on that same goroutine, inside the
// Executor's call.
type Engine struct {
	cfg         EngineConfig
	snapshotter *Snapshotter
	detector    *Detector
	analyzer    *Analyzer
	executor    *Executor
	events      chan Event
}

// NewEngine builds an Engine from cfg, wiring one shared event channel
// through every collaborator.
func NewEngine(cfg EngineConfig) *Engine {
	bufSize := cfg.EventBuffer
	if bufSize <= 0 {
		bufSize = defaultEventBuffer
	}
	events := make(chan Event, bufSize)

	return &Engine{
		cfg:         cfg,
		snapshotter: NewSnapshotter(cfg.Pools, cfg.Transport, cfg.SnapshotterConfig, events),
		detector:    NewDetector(cfg.DetectorConfig, events),
		analyzer:    NewAnalyzer(cfg.AnalyzerConfig, events, nil),
		executor:    NewExecutor(cfg.ExecutorConfig, cfg.Builder, cfg.Signer, cfg.Transport, cfg.Keeper, cfg.Outcomes, cfg.Mirror, cfg.Decoder, events),
		events:      events,
	}
}

// Run drives the event loop until ctx is canceled. It polls on
// cfg.SnapshotterConfig.PollInterval and otherwise reacts to whatever the
// loop's own components push onto the shared event channel: a snapshot
// feeds the Detector, a delta feeds the Analyzer, a found opportunity feeds
// the Executor. Every event is folded into the package's metrics on the way
// through (§9's "Metrics" ambient stack entry).
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.SnapshotterConfig.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.snapshotter.Poll(ctx)
		case ev := <-e.events:
			e.handle(ctx, ev)
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev Event) {
	observeEvent(ev)

	switch ev.Kind {
	case EventPriceUpdate:
		e.detector.OnSnapshot(ev.Snapshot)
	case EventDelta:
		e.analyzer.Analyze(ev.Delta)
	case EventOpportunityFound:
		if err := e.executor.Execute(ctx, ev.Opportunity); err != nil {
			log.Printf("engine: execute opportunity %s: %v", ev.Opportunity.ID, err)
		}
	case EventOpportunityRejected:
		log.Printf("engine: opportunity rejected: %s", ev.Reason)
	case EventError:
		log.Printf("engine: pool %s: %v", ev.PoolID, ev.Err)
	case EventSubmitted:
		log.Printf("engine: submitted tx %s", ev.TxHash)
	case EventConfirmed:
		log.Printf("engine: confirmed tx %s", ev.TxHash)
	case EventReverted:
		log.Printf("engine: reverted tx %s", ev.TxHash)
	}
}

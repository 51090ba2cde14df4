package flasharb

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/flowstate-labs/flasharbgo/internal/outcome"
	"github.com/flowstate-labs/flasharbgo/internal/state"
	"github.com/flowstate-labs/flasharbgo/pkg/chain"
	"github.com/flowstate-labs/flasharbgo/pkg/contractclient"
	"github.com/flowstate-labs/flasharbgo/pkg/txbuilder"
	chaintypes "github.com/flowstate-labs/flasharbgo/pkg/types"
)

// Mode is one of the three mutually-exclusive executor modes (§4.F).
type Mode string

const (
	ModeReport   Mode = "report"
	ModeSimulate Mode = "simulate"
	ModeSubmit   Mode = "submit"
)

// ExecutorConfig holds §6's Executor configuration surface.
type ExecutorConfig struct {
	Mode Mode

	// StalenessBudget is the §4.F staleness gate; zero defaults to 200ms.
	StalenessBudget time.Duration

	AggregatorAddress common.Address
	FlashProvider     common.Address
	ChainID           *big.Int

	GasLimit  uint64
	GasPrice  *big.Int // legacy pricing
	GasTipCap *big.Int // set together with GasFeeCap to use EIP-1559
	GasFeeCap *big.Int

	// TxDeadline is how far past "now" the built transaction's on-chain
	// deadline parameter is set.
	TxDeadline time.Duration

	ReceiptTimeout time.Duration
}

// bigIntString renders v as a decimal string, or "" when v is unset.
func bigIntString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func (c ExecutorConfig) stalenessBudget() time.Duration {
	if c.StalenessBudget <= 0 {
		return 200 * time.Millisecond
	}
	return c.StalenessBudget
}

func (c ExecutorConfig) receiptTimeout() time.Duration {
	if c.ReceiptTimeout <= 0 {
		return 2 * time.Minute
	}
	return c.ReceiptTimeout
}

// OutcomeMirror is the narrow seam internal/db.Mirror satisfies; declared
// here so the Executor never imports the MySQL-specific package directly.
type OutcomeMirror interface {
	Record(o outcome.TradeOutcome) error
}

// ReceiptDecoder is the narrow seam pkg/contractclient.ContractClient
// satisfies, used to ABI-decode a confirmed submission's logs for the
// outcome record's Detail field.
type ReceiptDecoder interface {
	ParseReceiptLogs(receipt *chaintypes.TxReceipt) ([]contractclient.DecodedEvent, error)
}

// Executor is component F: the mode dispatcher that turns an
// ArbitrageOpportunity into a report, a dry-run simulation, or a signed,
// broadcast, and accounted-for on-chain submission.
type Executor struct {
	cfg       ExecutorConfig
	builder   txbuilder.Builder
	signer    txbuilder.Signer
	transport chain.Transport
	keeper    *state.Keeper
	outcomes  *outcome.Store
	mirror    OutcomeMirror
	decoder   ReceiptDecoder
	events    chan<- Event
}

// NewExecutor wires the Executor's collaborators (§6): the Transaction
// Builder, Signer, Chain Transport, Submission State Keeper, Trade Outcome
// Store, optional MySQL mirror, and optional receipt log decoder. keeper,
// outcomes, mirror, and decoder may all be nil in report/simulate-only
// deployments, or deployments that skip the optional MySQL mirror or event
// decoding.
func NewExecutor(cfg ExecutorConfig, builder txbuilder.Builder, signer txbuilder.Signer, transport chain.Transport, keeper *state.Keeper, outcomes *outcome.Store, mirror OutcomeMirror, decoder ReceiptDecoder, events chan<- Event) *Executor {
	return &Executor{cfg: cfg, builder: builder, signer: signer, transport: transport, keeper: keeper, outcomes: outcomes, mirror: mirror, decoder: decoder, events: events}
}

// Execute dispatches opp to the configured mode.
func (e *Executor) Execute(ctx context.Context, opp *ArbitrageOpportunity) error {
	switch e.cfg.Mode {
	case ModeSimulate:
		return e.simulate(ctx, opp)
	case ModeSubmit:
		return e.submit(ctx, opp)
	case ModeReport, "":
		e.report(opp)
		return nil
	default:
		return fmt.Errorf("executor: unknown mode %q", e.cfg.Mode)
	}
}

func (e *Executor) report(opp *ArbitrageOpportunity) {
	log.Printf("opportunity %s: path=%s input=%s netProfit=%s netProfitPercent=%s",
		opp.ID, opp.Path.Label, opp.InputAmount, opp.NetProfit, opp.NetProfitPercent)
}

func (e *Executor) buildRequest(opp *ArbitrageOpportunity) txbuilder.BuildRequest {
	legs := make([]txbuilder.SwapLeg, len(opp.Path.Steps))
	for i, step := range opp.Path.Steps {
		legs[i] = txbuilder.SwapLeg{PoolAddress: step.PoolAddress, TokenIn: step.TokenIn, TokenOut: step.TokenOut}
	}
	deadline := e.cfg.TxDeadline
	if deadline <= 0 {
		deadline = 2 * time.Minute
	}
	return txbuilder.BuildRequest{
		AggregatorAddress: e.cfg.AggregatorAddress,
		FlashProvider:     e.cfg.FlashProvider,
		BorrowToken:       opp.Path.BaseToken,
		BorrowAmount:      opp.InputAmount,
		MinProfit:         opp.NetProfit,
		Legs:              legs,
		Deadline:          time.Now().Add(deadline),
	}
}

func (e *Executor) simulate(ctx context.Context, opp *ArbitrageOpportunity) error {
	to, data, err := e.builder.Build(e.buildRequest(opp))
	if err != nil {
		return fmt.Errorf("executor: build simulate transaction: %w", err)
	}

	_, callErr := e.transport.Simulate(ctx, e.signer.Address(), to, data)
	if callErr != nil {
		log.Printf("opportunity %s: simulation reverted: %v", opp.ID, callErr)
		e.recordOutcome(opp, "simulate", "simulation-revert", common.Hash{}, nil, time.Time{}, callErr.Error())
		return nil
	}

	log.Printf("opportunity %s: simulation succeeded, would broadcast, estimated netProfit=%s", opp.ID, opp.NetProfit)
	e.recordOutcome(opp, "simulate", "simulated", common.Hash{}, nil, time.Time{}, "")
	return nil
}

// submit enforces the staleness gate, then drives the State Keeper, Signer,
// and Chain Transport through exactly one submission attempt (§4.F, §4.G).
func (e *Executor) submit(ctx context.Context, opp *ArbitrageOpportunity) error {
	age := time.Since(opp.Timestamp)
	if age > e.cfg.stalenessBudget() {
		log.Printf("opportunity %s: stale (%s old), not submitting", opp.ID, age)
		return nil
	}
	submittedAt := time.Now()

	nonce, report, err := e.keeper.GetNextNonce(ctx)
	if err != nil {
		return fmt.Errorf("executor: acquire nonce: %w", err)
	}
	if report != state.ReportClean {
		log.Printf("opportunity %s: nonce keeper reported %q", opp.ID, report)
	}

	to, data, err := e.builder.Build(e.buildRequest(opp))
	if err != nil {
		return fmt.Errorf("executor: build submit transaction: %w", err)
	}

	gas := chaintypes.GasFields{
		Nonce:     nonce,
		GasLimit:  e.cfg.GasLimit,
		GasPrice:  e.cfg.GasPrice,
		GasTipCap: e.cfg.GasTipCap,
		GasFeeCap: e.cfg.GasFeeCap,
	}
	signed, err := e.signer.SignTransaction(ctx, to, nil, data, gas, e.cfg.ChainID)
	if err != nil {
		return fmt.Errorf("executor: sign transaction: %w", err)
	}

	// Persist the pending record before the broadcast RPC call returns (§4.F:
	// "so a crash between broadcast and receipt never loses the tx hash").
	if err := e.keeper.MarkSubmitted(signed.Hash, time.Now()); err != nil {
		return fmt.Errorf("executor: mark submitted: %w", err)
	}

	hash, err := e.transport.Broadcast(ctx, signed)
	if err != nil {
		// broadcast-failure: surface to caller, no further state transition —
		// the pending record already persisted resolves on a later attempt.
		return fmt.Errorf("executor: broadcast: %w", err)
	}
	e.events <- Event{Kind: EventSubmitted, Opportunity: opp, TxHash: hash}

	receipt, err := e.transport.WaitReceipt(ctx, hash, e.cfg.receiptTimeout())
	if err != nil {
		return fmt.Errorf("executor: wait receipt: %w", err)
	}

	if receipt.Succeeded() {
		if err := e.keeper.MarkConfirmed(hash); err != nil {
			return fmt.Errorf("executor: mark confirmed: %w", err)
		}
		e.events <- Event{Kind: EventConfirmed, Opportunity: opp, TxHash: hash}
		e.recordOutcome(opp, "submit", "success", hash, receipt, submittedAt, e.decodeDetail(receipt))
		return nil
	}

	if err := e.keeper.MarkReverted(hash); err != nil {
		return fmt.Errorf("executor: mark reverted: %w", err)
	}
	e.events <- Event{Kind: EventReverted, Opportunity: opp, TxHash: hash}
	e.recordOutcome(opp, "submit", "revert", hash, receipt, submittedAt, "")
	return nil
}

// decodeDetail ABI-decodes a confirmed receipt's logs into a short summary
// for the outcome record, when a decoder is configured. A decode failure is
// logged, not propagated — the submission itself already succeeded.
func (e *Executor) decodeDetail(receipt *chaintypes.TxReceipt) string {
	if e.decoder == nil {
		return ""
	}
	events, err := e.decoder.ParseReceiptLogs(receipt)
	if err != nil {
		log.Printf("executor: decode receipt logs: %v", err)
		return ""
	}
	if len(events) == 0 {
		return ""
	}
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Name
	}
	return fmt.Sprintf("events: %v", names)
}

// recordOutcome writes one terminal TradeOutcome (§3, §4.H). receipt is nil
// for report/simulate outcomes, which never reach the chain; submittedAt is
// the zero time for the same reason. A receipt's realized gas cost replaces
// the pre-trade estimate in GasCostL2 on success, or moves into RevertCost
// on an on-chain revert — spent gas that bought nothing.
func (e *Executor) recordOutcome(opp *ArbitrageOpportunity, mode, result string, txHash common.Hash, receipt *chaintypes.TxReceipt, submittedAt time.Time, detail string) {
	o := outcome.TradeOutcome{
		OpportunityID:   opp.ID,
		Mode:            mode,
		Result:          result,
		BlockNumber:     opp.ReferenceBlock,
		PathLabel:       opp.Path.Label,
		InputAmount:     bigIntString(opp.InputAmount),
		EstimatedProfit: bigIntString(opp.NetProfit),
		GrossProfit:     bigIntString(opp.GrossProfit),
		GasCostL2:       bigIntString(opp.Costs.GasCost),
		DataCostL1:      "0", // no L1 data-posting fee on this Chain Transport
		Detail:          detail,
		DetectedAt:      opp.Timestamp,
		SubmittedAt:     submittedAt,
		RecordedAt:      time.Now(),
	}
	if txHash != (common.Hash{}) {
		o.TxHash = txHash.Hex()
	}
	if receipt != nil {
		if bn := receipt.BlockNumberUint64(); bn > 0 {
			o.BlockNumber = bn
		}
		if gasCost := receipt.GasCost(); gasCost != nil {
			if result == "revert" {
				o.RevertCost = gasCost.String()
				o.GasCostL2 = ""
			} else {
				o.GasCostL2 = gasCost.String()
			}
		}
	}

	if e.outcomes != nil {
		if err := e.outcomes.Append(o); err != nil {
			log.Printf("opportunity %s: failed to record outcome: %v", opp.ID, err)
		}
	}
	if e.mirror != nil {
		if err := e.mirror.Record(o); err != nil {
			log.Printf("opportunity %s: failed to mirror outcome: %v", opp.ID, err)
		}
	}
}

// Package agent runs bounded multi-step sessions over a work item. A run is a
// sequential state machine that issues independently billed tool calls until
// the compare tool reports a passing fidelity verdict, the user cancels, the
// balance runs dry, or the iteration ceiling is reached. The ceiling is a
// hard guarantee of termination.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"atelier/internal/credit"
	"atelier/internal/domain"
	"atelier/internal/notify"
	"atelier/internal/observability"
	"atelier/internal/pricing"
)

const DefaultMaxIterations = 8

// Planner selects the next tool call. The reasoning behind the selection is
// an external collaborator; the loop only enforces billing, budget, and
// termination around whatever the planner decides.
type Planner interface {
	Decide(ctx context.Context, run *domain.AgentRun, item *domain.WorkItem, last *ToolResult) (ToolCall, error)
}

// ToolCall names the tool to invoke and the instruction to pass it.
type ToolCall struct {
	Tool        string
	Instruction string
}

// Loop drives claimed agent runs.
type Loop struct {
	runs     domain.AgentRunRepository
	items    domain.WorkItemRepository
	credits  *credit.Service
	prices   *pricing.Table
	planner  Planner
	tools    map[string]Tool
	notifier *notify.Notifier
	maxIter  int
	logger   zerolog.Logger
}

// NewLoop assembles an agent loop.
func NewLoop(runs domain.AgentRunRepository, items domain.WorkItemRepository, credits *credit.Service, prices *pricing.Table, planner Planner, tools map[string]Tool, notifier *notify.Notifier, maxIterations int, logger zerolog.Logger) *Loop {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &Loop{
		runs:     runs,
		items:    items,
		credits:  credits,
		prices:   prices,
		planner:  planner,
		tools:    tools,
		notifier: notifier,
		maxIter:  maxIterations,
		logger:   logger,
	}
}

// Run executes a claimed agent run until a terminal or paused status. The run
// arrives in the running status. Like the executor, Run never returns an
// error; every failure inside an iteration ends the run as failed with the
// error logged on the run itself.
func (l *Loop) Run(ctx context.Context, run *domain.AgentRun) {
	logger := l.logger.With().Str("run_id", run.ID).Str("item_id", run.WorkItemID).Logger()

	item, err := l.items.Get(ctx, run.WorkItemID)
	if err != nil {
		logger.Error().Err(err).Msg("agent: load work item failed")
		l.failRun(ctx, run, fmt.Sprintf("work item %s could not be loaded: %v", run.WorkItemID, err))
		return
	}

	var last *ToolResult
	for run.Iterations < l.maxIter {
		// Cancellation is a direct state write; re-read at the top of every
		// iteration rather than trusting the copy we are holding.
		current, err := l.runs.Get(ctx, run.ID)
		if err != nil {
			logger.Error().Err(err).Msg("agent: reload run failed")
			l.failRun(ctx, run, fmt.Sprintf("run state could not be reloaded: %v", err))
			return
		}
		if current.Status.Terminal() {
			logger.Info().Str("status", string(current.Status)).Msg("agent: run ended externally")
			return
		}
		run.Iterations = current.Iterations

		floor := l.prices.CheapestTool()
		affordable, err := l.credits.CanAfford(ctx, run.OwnerID, floor)
		if err != nil {
			l.failRun(ctx, run, fmt.Sprintf("balance check failed: %v", err))
			return
		}
		if !affordable {
			l.pauseRun(ctx, run, fmt.Sprintf("paused: balance below cheapest tool cost %d", floor))
			return
		}

		call, err := l.planner.Decide(ctx, run, item, last)
		if err != nil {
			l.failRun(ctx, run, fmt.Sprintf("planner error: %v", err))
			return
		}
		tool, ok := l.tools[call.Tool]
		if !ok {
			l.failRun(ctx, run, fmt.Sprintf("planner selected unknown tool %q", call.Tool))
			return
		}

		result, err := l.invokeBilled(ctx, run, item, tool, call)
		if err != nil {
			// invokeBilled already paused the run on a lost charge race.
			if errors.Is(err, domain.ErrInsufficientCredits) {
				return
			}
			l.failRun(ctx, run, fmt.Sprintf("tool %s failed: %v", call.Tool, err))
			l.notifier.OperatorAlert(ctx, fmt.Sprintf("agent run %s failed at tool %s: %v", run.ID, call.Tool, err))
			return
		}
		last = result

		if err := l.runs.IncrementIterations(ctx, run.ID); err != nil {
			logger.Error().Err(err).Msg("agent: increment iterations failed")
		}
		run.Iterations++
		observability.AgentIterations.Inc()
		l.log(ctx, run, "info", fmt.Sprintf("iteration %d: %s done", run.Iterations, call.Tool))

		if result.Fidelity != nil && result.Fidelity.Passed {
			l.log(ctx, run, "info", "compare reported a passing fidelity verdict")
			l.completeRun(ctx, run)
			return
		}
	}

	// The ceiling guarantees termination even when the completion signal
	// never fires.
	l.log(ctx, run, "warn", fmt.Sprintf("iteration ceiling %d reached without a fidelity verdict", l.maxIter))
	l.completeRun(ctx, run)
}

// invokeBilled wraps one tool invocation in its own charge/refund unit. A
// tool failure after the charge refunds exactly the tool's cost; earlier
// iterations' spend is untouched.
func (l *Loop) invokeBilled(ctx context.Context, run *domain.AgentRun, item *domain.WorkItem, tool Tool, call ToolCall) (*ToolResult, error) {
	cost, err := l.prices.ToolCost(call.Tool)
	if err != nil {
		return nil, err
	}
	ref := domain.TrackableRef{Kind: domain.TrackableToolCall, ID: uuid.NewString()}
	if _, err := l.credits.Charge(ctx, run.OwnerID, cost, ref); err != nil {
		if err == domain.ErrInsufficientCredits {
			// The advisory check raced with another spender. Treat exactly
			// like the pre-check: pause, do not fail.
			l.pauseRun(ctx, run, "paused: balance exhausted before tool charge")
			return nil, err
		}
		return nil, fmt.Errorf("charge for %s: %w", call.Tool, err)
	}

	result, err := tool.Invoke(ctx, ToolRequest{Run: run, Item: item, Instruction: call.Instruction})
	if err != nil {
		if _, rerr := l.credits.CompensateIfCharged(ctx, run.OwnerID, ref); rerr != nil {
			l.logger.Error().Err(rerr).Str("run_id", run.ID).Msg("agent: tool refund failed")
			l.notifier.OperatorAlert(ctx, fmt.Sprintf("refund failed for tool call %s on run %s: %v", ref.ID, run.ID, rerr))
		}
		return nil, err
	}
	return result, nil
}

func (l *Loop) completeRun(ctx context.Context, run *domain.AgentRun) {
	l.setStatus(ctx, run, domain.RunCompleted)
}

func (l *Loop) failRun(ctx context.Context, run *domain.AgentRun, message string) {
	l.log(ctx, run, "error", message)
	l.setStatus(ctx, run, domain.RunFailed)
}

func (l *Loop) pauseRun(ctx context.Context, run *domain.AgentRun, message string) {
	l.log(ctx, run, "warn", message)
	l.setStatus(ctx, run, domain.RunPaused)
}

// setStatus applies the transition and broadcasts the new status. An illegal
// transition here means the run turned terminal underneath us, which is fine;
// the earlier write wins.
func (l *Loop) setStatus(ctx context.Context, run *domain.AgentRun, to domain.RunStatus) {
	applied, err := l.runs.UpdateStatus(ctx, run.ID, to)
	if err != nil {
		l.logger.Error().Err(err).Str("run_id", run.ID).Str("to", string(to)).Msg("agent: status update failed")
		return
	}
	if !applied {
		return
	}
	run.Status = to
	l.notifier.RunStatus(ctx, run)
}

func (l *Loop) log(ctx context.Context, run *domain.AgentRun, severity, message string) {
	entry := domain.RunLogEntry{At: time.Now().UTC(), Severity: severity, Message: message}
	if err := l.runs.AppendLog(ctx, run.ID, entry); err != nil {
		l.logger.Error().Err(err).Str("run_id", run.ID).Msg("agent: append run log failed")
	}
	run.Logs = append(run.Logs, entry)
}

// ScriptedPlanner cycles transform then compare until the verdict passes. It
// is the default planner when no external reasoning step is wired in, and
// doubles as the planner used in tests.
type ScriptedPlanner struct {
	Instruction string
}

func (p *ScriptedPlanner) Decide(_ context.Context, _ *domain.AgentRun, _ *domain.WorkItem, last *ToolResult) (ToolCall, error) {
	instruction := p.Instruction
	if instruction == "" {
		instruction = "Apply the requested edit."
	}
	if last == nil {
		return ToolCall{Tool: ToolAnalyze, Instruction: instruction}, nil
	}
	switch last.Tool {
	case ToolAnalyze, ToolCompare:
		return ToolCall{Tool: ToolTransform, Instruction: instruction}, nil
	default:
		return ToolCall{Tool: ToolCompare, Instruction: instruction}, nil
	}
}

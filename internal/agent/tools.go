package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"atelier/internal/domain"
	"atelier/internal/providers/genai"
)

// Tool names accepted by the loop. Each tool call is its own billable unit.
const (
	ToolAnalyze   = "analyze"
	ToolTransform = "transform"
	ToolCompare   = "compare"
	ToolUpscale   = "upscale"
)

// Invoker is the external generation collaborator the tools call.
type Invoker interface {
	Generate(ctx context.Context, req genai.GenerateRequest) (*genai.GenerateResult, error)
}

// ToolRequest carries the context of one tool invocation.
type ToolRequest struct {
	Run         *domain.AgentRun
	Item        *domain.WorkItem
	Instruction string
}

// FidelityReport is the structured completion signal emitted by the compare
// tool. The loop never infers completion from free text; only a decoded
// report with Passed=true ends a run early.
type FidelityReport struct {
	Passed        bool     `json:"fidelity_passed"`
	Discrepancies []string `json:"discrepancies,omitempty"`
}

// ToolResult is the outcome of one tool call. Fidelity is nil for every tool
// except compare, and for compare responses that could not be decoded.
type ToolResult struct {
	Tool        string
	Text        string
	Media       []genai.Media
	ChildItemID string
	Fidelity    *FidelityReport
}

// Tool is one billable operation the agent loop can issue.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, req ToolRequest) (*ToolResult, error)
}

// Toolset builds the standard four tools over one backend client.
func Toolset(backend Invoker, items domain.WorkItemRepository) map[string]Tool {
	return map[string]Tool{
		ToolAnalyze:   &analyzeTool{backend: backend},
		ToolTransform: &transformTool{backend: backend},
		ToolCompare:   &compareTool{backend: backend},
		ToolUpscale:   &upscaleTool{backend: backend, items: items},
	}
}

// analyzeTool asks the backend to describe the current state of the item so
// the planner can decide the next step.
type analyzeTool struct {
	backend Invoker
}

func (t *analyzeTool) Name() string { return ToolAnalyze }

func (t *analyzeTool) Invoke(ctx context.Context, req ToolRequest) (*ToolResult, error) {
	result, err := t.backend.Generate(ctx, genai.GenerateRequest{
		Prompt:    "Describe the current state of this edit and what remains to be done. " + req.Instruction,
		RequestID: req.Run.ID,
	})
	if err != nil {
		return nil, err
	}
	return &ToolResult{Tool: ToolAnalyze, Text: result.Text}, nil
}

// transformTool applies the instruction as a generation step.
type transformTool struct {
	backend Invoker
}

func (t *transformTool) Name() string { return ToolTransform }

func (t *transformTool) Invoke(ctx context.Context, req ToolRequest) (*ToolResult, error) {
	result, err := t.backend.Generate(ctx, genai.GenerateRequest{
		Prompt:    req.Instruction,
		RequestID: req.Run.ID,
	})
	if err != nil {
		return nil, err
	}
	return &ToolResult{Tool: ToolTransform, Text: result.Text, Media: result.Media}, nil
}

// compareTool checks the produced result against the original request and
// returns the structured fidelity verdict. The backend is instructed to
// answer in a fixed JSON shape; anything it returns that does not decode into
// that shape leaves Fidelity nil and the run continues.
type compareTool struct {
	backend Invoker
}

func (t *compareTool) Name() string { return ToolCompare }

func (t *compareTool) Invoke(ctx context.Context, req ToolRequest) (*ToolResult, error) {
	prompt := `Compare the latest result against the requested edit. Respond with only a JSON object of the shape {"fidelity_passed": <bool>, "discrepancies": [<string>, ...]}. ` + req.Instruction
	result, err := t.backend.Generate(ctx, genai.GenerateRequest{
		Prompt:    prompt,
		RequestID: req.Run.ID,
	})
	if err != nil {
		return nil, err
	}
	out := &ToolResult{Tool: ToolCompare, Text: result.Text}
	var report FidelityReport
	if err := json.Unmarshal([]byte(result.Text), &report); err == nil {
		out.Fidelity = &report
	}
	return out, nil
}

// upscaleTool generates an upscaled rendition and records it as a child work
// item under the run's item. The child is born complete; it was billed as
// this tool call, not as a pipeline item.
type upscaleTool struct {
	backend Invoker
	items   domain.WorkItemRepository
}

func (t *upscaleTool) Name() string { return ToolUpscale }

func (t *upscaleTool) Invoke(ctx context.Context, req ToolRequest) (*ToolResult, error) {
	result, err := t.backend.Generate(ctx, genai.GenerateRequest{
		Prompt:    "Upscale the latest result to the highest available resolution. " + req.Instruction,
		RequestID: req.Run.ID,
	})
	if err != nil {
		return nil, err
	}
	if len(result.Media) == 0 {
		return nil, &genai.CallError{Message: "upscale produced no media", Transient: false}
	}
	child := &domain.WorkItem{
		ID:       uuid.NewString(),
		OwnerID:  req.Item.OwnerID,
		Kind:     req.Item.Kind,
		Model:    req.Item.Model,
		Progress: domain.StageComplete,
		ParentID: req.Item.ID,
		Input:    req.Item.Input,
	}
	output, err := json.Marshal(map[string]any{
		"mime":       result.Media[0].MIME,
		"bytes":      len(result.Media[0].Data),
		"created_at": time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode child output: %w", err)
	}
	child.Output = output
	if err := t.items.Create(ctx, child); err != nil {
		return nil, fmt.Errorf("create child item: %w", err)
	}
	return &ToolResult{Tool: ToolUpscale, Media: result.Media, ChildItemID: child.ID}, nil
}

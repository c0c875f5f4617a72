package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"atelier/internal/credit"
	"atelier/internal/domain"
	"atelier/internal/memstore"
	"atelier/internal/notify"
	"atelier/internal/pricing"
	"atelier/internal/providers/genai"
)

type stubBackend struct {
	calls     int
	responses []stubResponse
	// onCall runs before each response is served, for injecting races.
	onCall func(call int)
}

type stubResponse struct {
	text  string
	media []genai.Media
	err   error
}

func (s *stubBackend) Generate(_ context.Context, _ genai.GenerateRequest) (*genai.GenerateResult, error) {
	s.calls++
	if s.onCall != nil {
		s.onCall(s.calls)
	}
	resp := s.responses[len(s.responses)-1]
	if s.calls <= len(s.responses) {
		resp = s.responses[s.calls-1]
	}
	if resp.err != nil {
		return nil, resp.err
	}
	return &genai.GenerateResult{Text: resp.text, Media: resp.media}, nil
}

type queuePlanner struct {
	calls []ToolCall
	next  int
	err   error
}

func (p *queuePlanner) Decide(_ context.Context, _ *domain.AgentRun, _ *domain.WorkItem, _ *ToolResult) (ToolCall, error) {
	if p.err != nil {
		return ToolCall{}, p.err
	}
	call := p.calls[len(p.calls)-1]
	if p.next < len(p.calls) {
		call = p.calls[p.next]
	}
	p.next++
	return call, nil
}

type loopFixture struct {
	runs    *memstore.AgentRuns
	items   *memstore.WorkItems
	credits *memstore.Credits
	svc     *credit.Service
	loop    *Loop
	run     *domain.AgentRun
}

func newLoopFixture(t *testing.T, backend Invoker, planner Planner, balance int64, maxIter int) *loopFixture {
	t.Helper()
	runs := memstore.NewAgentRuns()
	items := memstore.NewWorkItems()
	credits := memstore.NewCredits()
	credits.Seed("owner-1", balance)
	svc := credit.NewService(credits, zerolog.Nop())
	notifier := notify.NewNotifier(nil, nil, zerolog.Nop())

	item := &domain.WorkItem{ID: "item-1", OwnerID: "owner-1", Kind: domain.ItemKindImageEdit, Progress: domain.StageComplete, Input: []byte(`{"prompt":"p"}`)}
	if err := items.Create(context.Background(), item); err != nil {
		t.Fatalf("Create item error = %v", err)
	}
	run := &domain.AgentRun{ID: "run-1", OwnerID: "owner-1", WorkItemID: "item-1", Status: domain.RunPending}
	if err := runs.Create(context.Background(), run); err != nil {
		t.Fatalf("Create run error = %v", err)
	}
	claimed, err := runs.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("ClaimNext error = %v", err)
	}

	loop := NewLoop(runs, items, svc, pricing.Default(), planner, Toolset(backend, items), notifier, maxIter, zerolog.Nop())
	return &loopFixture{runs: runs, items: items, credits: credits, svc: svc, loop: loop, run: claimed}
}

func (f *loopFixture) reloadRun(t *testing.T) *domain.AgentRun {
	t.Helper()
	run, err := f.runs.Get(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Get run error = %v", err)
	}
	return run
}

func (f *loopFixture) balance(t *testing.T) int64 {
	t.Helper()
	bal, err := f.svc.Balance(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("Balance error = %v", err)
	}
	return bal
}

func TestRunCompletesOnPassingVerdict(t *testing.T) {
	backend := &stubBackend{responses: []stubResponse{
		{text: "the background still needs removal"},
		{text: "done", media: []genai.Media{{MIME: "image/png", Data: []byte("x")}}},
		{text: `{"fidelity_passed": true}`},
	}}
	planner := &queuePlanner{calls: []ToolCall{
		{Tool: ToolAnalyze},
		{Tool: ToolTransform, Instruction: "remove background"},
		{Tool: ToolCompare},
	}}
	f := newLoopFixture(t, backend, planner, 100, 8)

	f.loop.Run(context.Background(), f.run)

	got := f.reloadRun(t)
	if got.Status != domain.RunCompleted {
		t.Fatalf("Status = %q, want %q", got.Status, domain.RunCompleted)
	}
	if got.Iterations != 3 {
		t.Fatalf("Iterations = %d, want 3", got.Iterations)
	}
	// analyze 1 + transform 8 + compare 1.
	if bal := f.balance(t); bal != 90 {
		t.Fatalf("Balance = %d, want 90", bal)
	}
}

func TestRunCompletesAtCeilingWithoutVerdict(t *testing.T) {
	backend := &stubBackend{responses: []stubResponse{
		{text: `{"fidelity_passed": false, "discrepancies": ["edge halo"]}`},
	}}
	planner := &queuePlanner{calls: []ToolCall{{Tool: ToolCompare}}}
	f := newLoopFixture(t, backend, planner, 1000, 5)

	f.loop.Run(context.Background(), f.run)

	got := f.reloadRun(t)
	if got.Status != domain.RunCompleted {
		t.Fatalf("Status = %q, want %q at ceiling", got.Status, domain.RunCompleted)
	}
	if got.Iterations != 5 {
		t.Fatalf("Iterations = %d, want 5", got.Iterations)
	}
	if backend.calls != 5 {
		t.Fatalf("backend calls = %d, want 5", backend.calls)
	}
}

func TestRunIgnoresUndecodableVerdict(t *testing.T) {
	// Free text that merely claims success must not end the run.
	backend := &stubBackend{responses: []stubResponse{
		{text: "everything looks finished and complete to me"},
	}}
	planner := &queuePlanner{calls: []ToolCall{{Tool: ToolCompare}}}
	f := newLoopFixture(t, backend, planner, 1000, 3)

	f.loop.Run(context.Background(), f.run)

	got := f.reloadRun(t)
	if got.Iterations != 3 {
		t.Fatalf("Iterations = %d, want full 3 despite success-sounding text", got.Iterations)
	}
}

func TestRunPausesWhenBalanceBelowCheapestTool(t *testing.T) {
	backend := &stubBackend{responses: []stubResponse{{text: "ok"}}}
	planner := &queuePlanner{calls: []ToolCall{{Tool: ToolAnalyze}}}
	f := newLoopFixture(t, backend, planner, 0, 8)

	f.loop.Run(context.Background(), f.run)

	got := f.reloadRun(t)
	if got.Status != domain.RunPaused {
		t.Fatalf("Status = %q, want %q", got.Status, domain.RunPaused)
	}
	if backend.calls != 0 {
		t.Fatalf("backend calls = %d, want 0", backend.calls)
	}
}

func TestRunPausesMidwayWhenCreditsRunOut(t *testing.T) {
	backend := &stubBackend{responses: []stubResponse{{text: "step done"}}}
	planner := &queuePlanner{calls: []ToolCall{{Tool: ToolTransform, Instruction: "edit"}}}
	// Enough for one transform at 8, not two.
	f := newLoopFixture(t, backend, planner, 9, 8)

	f.loop.Run(context.Background(), f.run)

	got := f.reloadRun(t)
	if got.Status != domain.RunPaused {
		t.Fatalf("Status = %q, want %q", got.Status, domain.RunPaused)
	}
	if got.Iterations != 1 {
		t.Fatalf("Iterations = %d, want 1", got.Iterations)
	}
	if bal := f.balance(t); bal != 1 {
		t.Fatalf("Balance = %d, want 1", bal)
	}
}

func TestRunFailsAndRefundsOnToolError(t *testing.T) {
	backend := &stubBackend{responses: []stubResponse{
		{err: &genai.CallError{Status: 500, Message: "boom", Transient: true}},
	}}
	planner := &queuePlanner{calls: []ToolCall{{Tool: ToolTransform, Instruction: "edit"}}}
	f := newLoopFixture(t, backend, planner, 100, 8)

	f.loop.Run(context.Background(), f.run)

	got := f.reloadRun(t)
	if got.Status != domain.RunFailed {
		t.Fatalf("Status = %q, want %q", got.Status, domain.RunFailed)
	}
	if bal := f.balance(t); bal != 100 {
		t.Fatalf("Balance = %d, want full refund to 100", bal)
	}
	entries, err := f.svc.Ledger(context.Background(), "owner-1", 10)
	if err != nil {
		t.Fatalf("Ledger error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ledger entries = %d, want charge+refund pair", len(entries))
	}
}

func TestRunStopsWhenCancelledBetweenIterations(t *testing.T) {
	f := newLoopFixture(t, nil, nil, 1000, 8)
	backend := &stubBackend{
		responses: []stubResponse{{text: "ok"}},
		onCall: func(int) {
			if _, err := f.runs.UpdateStatus(context.Background(), "run-1", domain.RunCancelled); err != nil {
				t.Fatalf("UpdateStatus error = %v", err)
			}
		},
	}
	planner := &queuePlanner{calls: []ToolCall{{Tool: ToolAnalyze}}}
	f.loop.planner = planner
	f.loop.tools = Toolset(backend, f.items)

	f.loop.Run(context.Background(), f.run)

	got := f.reloadRun(t)
	if got.Status != domain.RunCancelled {
		t.Fatalf("Status = %q, want %q to stick", got.Status, domain.RunCancelled)
	}
	if got.Iterations != 1 {
		t.Fatalf("Iterations = %d, want 1", got.Iterations)
	}
}

func TestRunFailsOnPlannerError(t *testing.T) {
	f := newLoopFixture(t, &stubBackend{responses: []stubResponse{{text: "ok"}}}, &queuePlanner{err: errors.New("no strategy")}, 100, 8)

	f.loop.Run(context.Background(), f.run)

	if got := f.reloadRun(t); got.Status != domain.RunFailed {
		t.Fatalf("Status = %q, want %q", got.Status, domain.RunFailed)
	}
}

func TestRunFailsOnUnknownTool(t *testing.T) {
	f := newLoopFixture(t, &stubBackend{responses: []stubResponse{{text: "ok"}}}, &queuePlanner{calls: []ToolCall{{Tool: "repaint"}}}, 100, 8)

	f.loop.Run(context.Background(), f.run)

	if got := f.reloadRun(t); got.Status != domain.RunFailed {
		t.Fatalf("Status = %q, want %q", got.Status, domain.RunFailed)
	}
}

func TestUpscaleCreatesChildItem(t *testing.T) {
	backend := &stubBackend{responses: []stubResponse{
		{media: []genai.Media{{MIME: "image/png", Data: []byte("big")}}},
		{text: `{"fidelity_passed": true}`},
	}}
	planner := &queuePlanner{calls: []ToolCall{
		{Tool: ToolUpscale},
		{Tool: ToolCompare},
	}}
	f := newLoopFixture(t, backend, planner, 100, 8)

	f.loop.Run(context.Background(), f.run)

	children, err := f.items.ListByOwner(context.Background(), "owner-1", 10)
	if err != nil {
		t.Fatalf("ListByOwner error = %v", err)
	}
	var child *domain.WorkItem
	for i := range children {
		if children[i].ParentID == "item-1" {
			child = &children[i]
		}
	}
	if child == nil {
		t.Fatal("no child item created by upscale")
	}
	if child.Progress != domain.StageComplete {
		t.Fatalf("child Progress = %q, want %q", child.Progress, domain.StageComplete)
	}
	// upscale 4 + compare 1.
	if bal := f.balance(t); bal != 95 {
		t.Fatalf("Balance = %d, want 95", bal)
	}
}

func TestScriptedPlannerCycle(t *testing.T) {
	p := &ScriptedPlanner{}
	first, _ := p.Decide(context.Background(), nil, nil, nil)
	if first.Tool != ToolAnalyze {
		t.Fatalf("first tool = %q, want %q", first.Tool, ToolAnalyze)
	}
	second, _ := p.Decide(context.Background(), nil, nil, &ToolResult{Tool: ToolAnalyze})
	if second.Tool != ToolTransform {
		t.Fatalf("second tool = %q, want %q", second.Tool, ToolTransform)
	}
	third, _ := p.Decide(context.Background(), nil, nil, &ToolResult{Tool: ToolTransform})
	if third.Tool != ToolCompare {
		t.Fatalf("third tool = %q, want %q", third.Tool, ToolCompare)
	}
}

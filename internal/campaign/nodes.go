package campaign

import (
	"context"
	"time"

	"leadflow/internal/dispatch"
	"leadflow/internal/logging"
	"leadflow/internal/memory"
	"leadflow/internal/types"
)

// ============================================================================
// STAGE NODE CONTRACT
// ============================================================================

// Node executes one stage against a campaign snapshot. Nodes hold no state
// across invocations and never persist: they read the campaign, do their
// work, and hand the orchestrator a delta to merge and save.
//
// Execute may return a delta alongside an error. The orchestrator merges
// the delta first, so stages with external side effects (outreach) keep
// partial progress across an interrupted run.
type Node interface {
	Stage() Stage
	Execute(ctx context.Context, c *Campaign, mem MemoryView) (*StageDelta, error)
}

// MemoryView is the slice of the memory store stage nodes may touch.
// *memory.Store satisfies it; tests substitute fakes.
type MemoryView interface {
	Query(ctx context.Context, f memory.Filter) ([]memory.Entry, error)
	Append(ctx context.Context, e memory.Entry) error
}

// Dispatcher is the dispatch gate surface the outreach stage needs.
// *dispatch.Gate satisfies it.
type Dispatcher interface {
	Send(ctx context.Context, to, subject, body string) (*dispatch.SendResult, error)
	DryRun() bool
}

// completeWithRetry makes one LLM call, retrying a single time on a
// transient failure. Stage nodes own their retry policy; anything beyond
// one retry belongs to the provider client or the caller.
func completeWithRetry(ctx context.Context, llm types.LLMClient, system, prompt string) (string, error) {
	out, err := llm.CompleteWithSystem(ctx, system, prompt)
	if err == nil {
		return out, nil
	}
	if !types.IsTransient(err) || ctx.Err() != nil {
		return "", err
	}
	logging.CampaignWarn("llm call failed, retrying once: %v", err)
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return llm.CompleteWithSystem(ctx, system, prompt)
}

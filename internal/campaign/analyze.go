package campaign

import (
	"context"
	"fmt"
	"strings"

	"leadflow/internal/logging"
	"leadflow/internal/memory"
	"leadflow/internal/tracker"
	"leadflow/internal/types"
)

// ============================================================================
// STAGE 2: ANALYZE PREVIOUS MAILS
// ============================================================================

// EngagementSource feeds the analysis stage with historical engagement.
// *tracker.Tracker satisfies it; nil means no engagement data.
type EngagementSource interface {
	RecentCampaignRates(n int) (*tracker.AggregateRates, error)
	RecentReplies(limit int) ([]tracker.Reply, error)
}

// AnalyzeNode summarizes what previous outreach achieved: memory entries
// for the campaign's segment plus engagement rates over the most recent
// campaigns, condensed into a textual analysis by one model call. The
// stage is read-only against memory and advisory: when the model call
// fails, the deterministic summary stands in.
type AnalyzeNode struct {
	llm    types.LLMClient
	emb    types.Embedder
	events EngagementSource
	window int
}

const (
	analyzeSystemPrompt = "You are a strategic marketing analyst."

	// Bounds on how much history one analysis pass considers.
	analyzeMemoryLimit = 20
	analyzeReplyLimit  = 5
)

// NewAnalyzeNode builds the node. emb and events may be nil: without an
// embedder memory entries stay recency-ordered, without an engagement
// source the summary covers memory alone.
func NewAnalyzeNode(llm types.LLMClient, emb types.Embedder, events EngagementSource, window int) *AnalyzeNode {
	if window <= 0 {
		window = 5
	}
	return &AnalyzeNode{llm: llm, emb: emb, events: events, window: window}
}

func (n *AnalyzeNode) Stage() Stage { return StageAnalyze }

func (n *AnalyzeNode) Execute(ctx context.Context, c *Campaign, mem MemoryView) (*StageDelta, error) {
	entries, err := mem.Query(ctx, memory.Filter{
		Domain:          c.Params.TargetIndustry,
		ExcludeCampaign: c.ID,
		Limit:           analyzeMemoryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}

	if n.emb != nil && len(entries) > 1 {
		query := strings.TrimSpace(c.Params.Product + " " + c.Params.TargetIndustry)
		ranked, rerr := memory.Rank(ctx, n.emb, query, entries)
		if rerr != nil {
			logging.AnalysisDebug("similarity ranking unavailable: %v", rerr)
		}
		entries = ranked
	}

	var rates *tracker.AggregateRates
	var replies []tracker.Reply
	if n.events != nil {
		if rates, err = n.events.RecentCampaignRates(n.window); err != nil {
			logging.Analysis("engagement rates unavailable: %v", err)
			rates = nil
		}
		if replies, err = n.events.RecentReplies(analyzeReplyLimit); err != nil {
			replies = nil
		}
	}

	noHistory := len(entries) == 0 && (rates == nil || rates.Campaigns == 0)
	if noHistory {
		logging.Analysis("campaign %s: no historical data", c.ID)
		return &StageDelta{
			Analysis: "No historical data available. This is the first campaign for this segment; content will rely on general best practice.",
			Message:  "no prior outreach history",
		}, nil
	}

	summary := deterministicSummary(entries, rates)
	prompt := buildAnalysisPrompt(c, entries, rates, replies)

	out, err := completeWithRetry(ctx, n.llm, analyzeSystemPrompt, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logging.Analysis("campaign %s: model summary failed, using aggregate summary: %v", c.ID, err)
		out = summary
	}
	out = strings.TrimSpace(out)
	if out == "" {
		out = summary
	}

	logging.Analysis("campaign %s analysis: %.120s", c.ID, out)
	return &StageDelta{
		Analysis: out,
		Message:  fmt.Sprintf("analyzed %d memory entries, %d campaigns of engagement", len(entries), campaignsIn(rates)),
	}, nil
}

func campaignsIn(rates *tracker.AggregateRates) int {
	if rates == nil {
		return 0
	}
	return rates.Campaigns
}

// deterministicSummary is the no-model fallback, the same aggregate line
// the engagement data supports on its own.
func deterministicSummary(entries []memory.Entry, rates *tracker.AggregateRates) string {
	var b strings.Builder
	if rates != nil && rates.Campaigns > 0 {
		fmt.Fprintf(&b, "Analyzed %d campaigns (%d sends). Avg open: %.1f%%, click: %.1f%%, reply: %.1f%%.",
			rates.Campaigns, rates.Sends, rates.OpenRate*100, rates.ClickRate*100, rates.ReplyRate*100)
	}
	if len(entries) > 0 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d prior outreach records considered for this segment.", len(entries))
	}
	return b.String()
}

func buildAnalysisPrompt(c *Campaign, entries []memory.Entry, rates *tracker.AggregateRates, replies []tracker.Reply) string {
	var b strings.Builder
	b.WriteString("Summarize past outreach performance for the campaign below in 3-5 sentences.\n")
	b.WriteString("Focus on what worked, what failed, and what the next campaign should change.\n\n")
	fmt.Fprintf(&b, "CAMPAIGN: product=%q industry=%q\n\n", c.Params.Product, c.Params.TargetIndustry)

	if rates != nil && rates.Campaigns > 0 {
		b.WriteString("ENGAGEMENT (send-weighted over recent campaigns):\n")
		fmt.Fprintf(&b, "- campaigns: %d, sends: %d\n", rates.Campaigns, rates.Sends)
		fmt.Fprintf(&b, "- open rate: %.1f%%, click rate: %.1f%%, reply rate: %.1f%%\n\n",
			rates.OpenRate*100, rates.ClickRate*100, rates.ReplyRate*100)
	}

	if len(replies) > 0 {
		b.WriteString("RECENT REPLIES:\n")
		for _, r := range replies {
			fmt.Fprintf(&b, "- %q (positivity %.2f)\n", r.Excerpt, r.Positivity)
		}
		b.WriteByte('\n')
	}

	if len(entries) > 0 {
		b.WriteString("PRIOR OUTREACH RECORDS (most relevant first):\n")
		for _, e := range entries {
			line := e.Insight
			if line == "" {
				line = e.ContentSent
			}
			if len(line) > 160 {
				line = line[:160]
			}
			fmt.Fprintf(&b, "- [%s] outcome=%s %s\n", e.Domain, e.Outcome, line)
		}
	}
	return b.String()
}

package campaign

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"leadflow/internal/llm"
	"leadflow/internal/logging"
	"leadflow/internal/memory"
	"leadflow/internal/types"
)

// ============================================================================
// STAGE 3: FEEDBACK INSIGHTS
// ============================================================================

// insightsResponse is the JSON shape the insights prompt asks for.
// Confidence is a pointer so an omitted field is distinguishable from an
// explicit zero.
type insightsResponse struct {
	PerformanceSummary string `json:"performance_summary"`
	ContentGuidelines  struct {
		SubjectLines  []string `json:"subject_lines"`
		BodyStructure []string `json:"body_structure"`
		Tone          []string `json:"tone"`
		Avoid         []string `json:"avoid"`
	} `json:"content_guidelines"`
	TargetingRecommendations []string `json:"targeting_recommendations"`
	TimingSuggestions        []string `json:"timing_suggestions"`
	ABTestIdeas              []string `json:"ab_test_ideas"`
	UniqueInsights           []string `json:"unique_insights"`
	Confidence               *float64 `json:"confidence"`
}

// FeedbackNode turns the analysis summary into actionable content guidance.
// One model call returns structured insights plus a confidence score the
// orchestrator uses to decide whether content is worth regenerating. Model
// or parse trouble degrades to a summary-only insight set at low
// confidence; only cancellation fails the stage.
type FeedbackNode struct {
	llm types.LLMClient
}

const (
	feedbackSystemPrompt = "You are a strategic marketing analyst."

	// Confidence when the response cannot be used as-is, and when the
	// model omits the field.
	fallbackConfidence = 0.3
	neutralConfidence  = 0.5

	// How many prior insight entries the prompt shows the model.
	previousInsightLimit = 3

	// How much of an unparseable response survives as the summary.
	summaryClipLen = 300
)

func NewFeedbackNode(client types.LLMClient) *FeedbackNode {
	return &FeedbackNode{llm: client}
}

func (n *FeedbackNode) Stage() Stage { return StageFeedback }

func (n *FeedbackNode) Execute(ctx context.Context, c *Campaign, mem MemoryView) (*StageDelta, error) {
	previous, err := previousInsights(ctx, mem, c.ID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logging.InsightsWarn("campaign %s: previous insights unavailable: %v", c.ID, err)
	}

	prompt := buildInsightsPrompt(c, previous)

	var resp insightsResponse
	conf := fallbackConfidence
	out, err := completeWithRetry(ctx, n.llm, feedbackSystemPrompt, prompt)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		logging.Insights("campaign %s: insight generation failed, continuing with summary only: %v", c.ID, err)
		resp.PerformanceSummary = "Insight generation unavailable; content will follow the campaign analysis directly."
	default:
		if perr := llm.ParseInto(out, &resp); perr != nil {
			logging.InsightsWarn("campaign %s: unparseable insights, keeping raw summary: %v", c.ID, perr)
			resp = insightsResponse{PerformanceSummary: clip(out, summaryClipLen)}
		} else {
			conf = neutralConfidence
			if resp.Confidence != nil {
				conf = clamp01(*resp.Confidence)
			}
		}
	}

	insights := flattenInsights(&resp)

	// One memory record per campaign run, written on the first pass. Loop
	// re-entries refine confidence, not the stored insight.
	if c.FeedbackLoops == 0 {
		entry := memory.Entry{
			CampaignID: c.ID,
			Domain:     c.Params.TargetIndustry,
			Insight:    insights["performance_summary"],
		}
		if aerr := mem.Append(ctx, entry); aerr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.InsightsWarn("campaign %s: insight not recorded to memory: %v", c.ID, aerr)
		}
	}

	logging.Insights("campaign %s insights ready (confidence %.2f)", c.ID, conf)
	return &StageDelta{
		Insights:   insights,
		Confidence: &conf,
		Message:    fmt.Sprintf("generated %d insight fields (confidence %.2f)", len(insights), conf),
	}, nil
}

// previousInsights pulls the most recent insight texts from earlier
// campaigns so the prompt can steer the model away from repeating them.
func previousInsights(ctx context.Context, mem MemoryView, excludeCampaign string) ([]string, error) {
	entries, err := mem.Query(ctx, memory.Filter{ExcludeCampaign: excludeCampaign})
	if err != nil {
		return nil, err
	}
	var texts []string
	for _, e := range entries {
		if e.Insight == "" {
			continue
		}
		texts = append(texts, e.Insight)
		if len(texts) >= previousInsightLimit {
			break
		}
	}
	return texts, nil
}

func buildInsightsPrompt(c *Campaign, previous []string) string {
	var b strings.Builder
	b.WriteString("You are a strategic email marketing consultant analyzing campaign performance.\n\n")

	b.WriteString("ANALYSIS DATA:\n")
	if c.Analysis != "" {
		b.WriteString(c.Analysis)
	} else {
		b.WriteString("(no analysis available)")
	}
	b.WriteString("\n\n")

	if len(c.Insights) > 0 {
		b.WriteString("CURRENT CAMPAIGN INSIGHTS:\n")
		for _, k := range sortedKeys(c.Insights) {
			fmt.Fprintf(&b, "- %s: %s\n", k, c.Insights[k])
		}
		b.WriteByte('\n')
	}

	b.WriteString("PREVIOUS INSIGHTS (avoid repeating):\n")
	if len(previous) == 0 {
		b.WriteString("(none)\n")
	}
	for _, p := range previous {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	b.WriteByte('\n')

	b.WriteString(`Generate fresh, actionable strategic insights in JSON format:
{
    "performance_summary": "2-3 sentence summary",
    "content_guidelines": {
        "subject_lines": ["tip 1", "tip 2", "tip 3"],
        "body_structure": ["tip 1", "tip 2"],
        "tone": ["tip 1", "tip 2"],
        "avoid": ["thing 1", "thing 2"]
    },
    "targeting_recommendations": ["rec 1", "rec 2", "rec 3"],
    "timing_suggestions": ["suggestion 1", "suggestion 2"],
    "ab_test_ideas": ["idea 1", "idea 2", "idea 3"],
    "unique_insights": ["insight 1", "insight 2"],
    "confidence": 0.0
}

Set "confidence" between 0 and 1: how well the available data supports these recommendations.
Be specific and actionable. Avoid generic advice.`)

	return b.String()
}

// flattenInsights folds the structured response into the campaign's flat
// insight map. Empty fields stay out so earlier values survive the
// append-only merge.
func flattenInsights(r *insightsResponse) map[string]string {
	out := make(map[string]string)
	put := func(key, val string) {
		if val = strings.TrimSpace(val); val != "" {
			out[key] = val
		}
	}
	put("performance_summary", r.PerformanceSummary)
	put("subject_lines", strings.Join(r.ContentGuidelines.SubjectLines, "; "))
	put("body_structure", strings.Join(r.ContentGuidelines.BodyStructure, "; "))
	put("tone", strings.Join(r.ContentGuidelines.Tone, "; "))
	put("avoid", strings.Join(r.ContentGuidelines.Avoid, "; "))
	put("targeting", strings.Join(r.TargetingRecommendations, "; "))
	put("timing", strings.Join(r.TimingSuggestions, "; "))
	put("ab_tests", strings.Join(r.ABTestIdeas, "; "))
	put("unique", strings.Join(r.UniqueInsights, "; "))
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"leadflow/internal/llm"
	"leadflow/internal/logging"
	"leadflow/internal/types"
)

// ============================================================================
// STAGE 4: CONTENT GENERATION
// ============================================================================

// emailResponse is the JSON shape the copywriting prompt asks for.
type emailResponse struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	CTA     string `json:"cta"`
}

// ContentNode writes one personalized email per lead, bounded by a worker
// pool. Each lead is independent: an unusable model response falls back to
// the template email, a hard model failure marks just that lead failed.
type ContentNode struct {
	llm     types.LLMClient
	workers int
}

const contentSystemPrompt = "You are an expert email copywriter."

func NewContentNode(client types.LLMClient, workers int) *ContentNode {
	if workers <= 0 {
		workers = 4
	}
	return &ContentNode{llm: client, workers: workers}
}

func (n *ContentNode) Stage() Stage { return StageContent }

func (n *ContentNode) Execute(ctx context.Context, c *Campaign, _ MemoryView) (*StageDelta, error) {
	statuses := []LeadStatus{LeadPending}
	if c.LoopActive {
		// A loop pass regenerates content the feedback stage scored low.
		statuses = append(statuses, LeadContentReady)
	}
	targets := c.LeadsInStatus(statuses...)
	if len(targets) == 0 {
		return &StageDelta{Message: "no leads awaiting content"}, nil
	}

	logging.Content("campaign %s: generating content for %d leads (workers=%d, loop=%v)",
		c.ID, len(targets), n.workers, c.LoopActive)

	results := make([]*LeadRecord, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.workers)

	for i, rec := range targets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out := rec.clone()
			n.generate(gctx, c, out)
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()

	// Cancellation discards in-flight work; the stage reruns on resume and
	// regeneration has no side effects to duplicate.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	delta := &StageDelta{}
	ready, failed := 0, 0
	for _, rec := range results {
		if rec == nil {
			continue
		}
		delta.Leads = append(delta.Leads, rec)
		switch rec.Status {
		case LeadContentReady:
			ready++
		case LeadFailed:
			failed++
		}
	}
	delta.Message = fmt.Sprintf("content ready for %d leads, %d failed", ready, failed)
	logging.Content("campaign %s: %s", c.ID, delta.Message)
	return delta, nil
}

// generate produces the email for one lead, mutating rec in place.
func (n *ContentNode) generate(ctx context.Context, c *Campaign, rec *LeadRecord) {
	out, err := completeWithRetry(ctx, n.llm, contentSystemPrompt, buildContentPrompt(c, rec))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		rec.Status = LeadFailed
		rec.Error = fmt.Sprintf("content generation: %v", err)
		logging.ContentWarn("lead %s: %s", rec.Email, rec.Error)
		return
	}

	var resp emailResponse
	if perr := llm.ParseInto(out, &resp); perr != nil || strings.TrimSpace(resp.Subject) == "" || strings.TrimSpace(resp.Body) == "" {
		logging.ContentWarn("lead %s: unusable model response, using template fallback", rec.Email)
		resp = fallbackEmail(c, rec)
	}

	rec.Content = &Content{
		Subject:     strings.TrimSpace(resp.Subject),
		Body:        strings.TrimSpace(resp.Body),
		CTA:         strings.TrimSpace(resp.CTA),
		GeneratedAt: time.Now().UTC(),
	}
	rec.Status = LeadContentReady
	rec.Error = ""
	logging.ContentDebug("lead %s: subject %q", rec.Email, rec.Content.Subject)
}

func buildContentPrompt(c *Campaign, rec *LeadRecord) string {
	name := rec.ContactName
	if name == "" {
		name = "there"
	}
	company := rec.BusinessName
	if company == "" {
		company = "the company"
	}
	industry := rec.Industry
	if industry == "" {
		industry = c.Params.TargetIndustry
	}
	if industry == "" {
		industry = "business"
	}

	var b strings.Builder
	b.WriteString("Create a personalized cold email for:\n")
	fmt.Fprintf(&b, "- Name: %s\n", name)
	fmt.Fprintf(&b, "- Company: %s\n", company)
	fmt.Fprintf(&b, "- Title: %s\n", rec.Title)
	fmt.Fprintf(&b, "- Industry: %s\n", industry)
	fmt.Fprintf(&b, "- Product: %s\n\n", c.Params.Product)

	b.WriteString("GUIDELINES:\n")
	fmt.Fprintf(&b, "- Subject tips: %s\n", firstTips(c.Insights["subject_lines"], 2))
	fmt.Fprintf(&b, "- Tone: %s\n", firstTips(c.Insights["tone"], 2))
	fmt.Fprintf(&b, "- AVOID: %s\n\n", firstTips(c.Insights["avoid"], 2))

	b.WriteString("Requirements:\n")
	b.WriteString("- Under 100 words\n")
	b.WriteString("- Conversational and personalized\n")
	b.WriteString("- One clear CTA\n")
	fmt.Fprintf(&b, "- Reference something specific about %s or %s\n\n", industry, rec.Title)

	b.WriteString(`Return JSON:
{
    "subject": "compelling subject line",
    "body": "personalized email body",
    "cta": "clear call to action"
}`)
	return b.String()
}

// firstTips takes the first n items of a "; "-joined guideline string.
func firstTips(joined string, n int) string {
	if joined == "" {
		return ""
	}
	parts := strings.Split(joined, "; ")
	if len(parts) > n {
		parts = parts[:n]
	}
	return strings.Join(parts, ", ")
}

// fallbackEmail is the deterministic template used when the model response
// cannot be parsed.
func fallbackEmail(c *Campaign, rec *LeadRecord) emailResponse {
	name := rec.ContactName
	if name == "" {
		name = "there"
	}
	company := rec.BusinessName
	if company == "" {
		company = "the company"
	}
	industry := rec.Industry
	if industry == "" {
		industry = "business"
	}
	return emailResponse{
		Subject: fmt.Sprintf("Quick question about %s", company),
		Body: fmt.Sprintf("Hi %s,\n\nI noticed %s and thought %s might help with your %s challenges.\n\nWould you be open to a brief conversation?",
			name, company, c.Params.Product, industry),
		CTA: "Reply with your availability",
	}
}

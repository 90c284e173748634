package main

import (
	"fmt"
	"strings"
	"time"

	"leadflow/internal/campaign"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

// statusCmd shows one campaign's state
var statusCmd = &cobra.Command{
	Use:   "status [campaign-id]",
	Short: "Show a campaign's stage and lead progress (latest if omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

// listCmd lists all campaigns
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all campaigns",
	RunE:  runList,
}

// reportCmd renders a finished campaign's report
var reportCmd = &cobra.Command{
	Use:   "report [campaign-id]",
	Short: "Render the final report of a finished campaign",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := campaign.NewFileStore(cfg.CampaignsDir())
	if err != nil {
		return err
	}

	var id string
	if len(args) > 0 {
		id = args[0]
	} else {
		ids, err := store.List()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No campaigns found. Run 'leadflow run' to start one.")
			return nil
		}
		id = ids[0]
	}

	c, err := store.Load(id)
	if err != nil {
		return err
	}

	counts := c.CountByStatus()
	settled := counts[campaign.LeadSent] + counts[campaign.LeadFailed] + counts[campaign.LeadSkipped]
	total := len(c.Leads)

	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                   CAMPAIGN STATUS                         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Printf("\n📋 %s\n", c.ID)
	fmt.Printf("   Stage: %s\n", c.Stage)
	if c.Params.Product != "" {
		fmt.Printf("   Product: %s", c.Params.Product)
		if c.Params.TargetIndustry != "" {
			fmt.Printf(" → %s", c.Params.TargetIndustry)
		}
		fmt.Println()
	}
	fmt.Printf("   Created: %s | Updated: %s\n",
		c.CreatedAt.Format(time.RFC822), c.UpdatedAt.Format(time.RFC822))

	if total > 0 {
		fmt.Printf("\n   Progress: %s\n", progressBar(settled, total, 40))
		fmt.Printf("   Leads: %d pending | %d content ready | %d sent | %d failed | %d skipped\n",
			counts[campaign.LeadPending], counts[campaign.LeadContentReady],
			counts[campaign.LeadSent], counts[campaign.LeadFailed], counts[campaign.LeadSkipped])
	}

	if len(c.Insights) > 0 {
		fmt.Printf("\n   Insights: %d fields (confidence %.2f, loops %d)\n",
			len(c.Insights), c.Confidence, c.FeedbackLoops)
	}
	if c.LastError != "" {
		fmt.Printf("\n   ❌ Last error: %s\n", c.LastError)
	}
	if !c.Stage.Terminal() && c.Stage != campaign.StageCreated {
		fmt.Printf("\n   Resume with: leadflow resume %s\n", c.ID)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := campaign.NewFileStore(cfg.CampaignsDir())
	if err != nil {
		return err
	}
	ids, err := store.List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No campaigns found.")
		return nil
	}

	for _, id := range ids {
		c, err := store.Load(id)
		if err != nil {
			fmt.Printf("⚠️  %s (unreadable: %v)\n", id, err)
			continue
		}
		fmt.Printf("%s %s\n", stageIcon(c.Stage), c.Summary())
	}
	return nil
}

func stageIcon(st campaign.Stage) string {
	switch st {
	case campaign.StageCompleted:
		return "✅"
	case campaign.StageFailed:
		return "❌"
	case campaign.StageCreated:
		return "📝"
	default:
		return "▶️"
	}
}

// progressBar renders a fixed-width bar like [████████░░] 80%.
func progressBar(done, total, width int) string {
	if total <= 0 {
		return ""
	}
	frac := float64(done) / float64(total)
	filled := int(frac * float64(width))
	if filled > width {
		filled = width
	}
	return fmt.Sprintf("[%s%s] %.0f%%",
		strings.Repeat("█", filled),
		strings.Repeat("░", width-filled),
		frac*100)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := campaign.NewFileStore(cfg.CampaignsDir())
	if err != nil {
		return err
	}

	id := args[0]
	rep, err := store.LoadReport(id)
	if err != nil {
		if c, lerr := store.Load(id); lerr == nil && !c.Stage.Terminal() {
			fmt.Printf("Campaign %s is still at stage %s; no report yet. See 'leadflow status %s'.\n",
				id, c.Stage, id)
			return nil
		}
		return err
	}

	md := reportMarkdown(rep)
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Print(md)
		return nil
	}
	out, err := renderer.Render(md)
	if err != nil {
		fmt.Print(md)
		return nil
	}
	fmt.Print(out)
	return nil
}

// reportMarkdown lays the report out as markdown for the terminal renderer.
func reportMarkdown(rep *campaign.Report) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Campaign %s\n\n", rep.CampaignID)
	if rep.DryRun {
		sb.WriteString("**DRY RUN**: no mail touched the wire.\n\n")
	}

	fmt.Fprintf(&sb, "- **Outcome**: %s\n", rep.Stage)
	fmt.Fprintf(&sb, "- **Started**: %s\n", rep.StartedAt.Format(time.RFC1123))
	fmt.Fprintf(&sb, "- **Finished**: %s (%s)\n", rep.FinishedAt.Format(time.RFC1123), rep.Duration)
	fmt.Fprintf(&sb, "- **Leads**: %d total, %d sent, %d failed, %d skipped\n",
		rep.Total, rep.Sent, rep.Failed, rep.Skipped)
	if rep.FeedbackLoops > 0 {
		fmt.Fprintf(&sb, "- **Feedback loops**: %d\n", rep.FeedbackLoops)
	}
	if rep.Error != "" {
		fmt.Fprintf(&sb, "- **Error**: %s\n", rep.Error)
	}
	sb.WriteString("\n")

	if len(rep.Leads) > 0 {
		sb.WriteString("## Leads\n\n")
		sb.WriteString("| Email | Business | Status | Attempts | Detail |\n")
		sb.WriteString("|---|---|---|---|---|\n")
		for _, l := range rep.Leads {
			fmt.Fprintf(&sb, "| %s | %s | %s | %d | %s |\n",
				l.Email, l.BusinessName, l.Status, l.Attempts, l.Error)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"leadflow/internal/mail"
	"leadflow/internal/memory"
	"leadflow/internal/tracker"

	"github.com/spf13/cobra"
)

var (
	memDomain   string
	memCampaign string
	memLimit    int
	memSince    time.Duration
)

// memoryCmd queries the append-only outreach log
var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Query the campaign memory log",
	Long: `Query the append-only memory log of past sends, outcomes and insights.

Entries are shown newest first. Filter by lead domain or campaign:

  leadflow memory --domain acme.com
  leadflow memory --campaign camp-20260812-094500 --limit 50
  leadflow memory --since 168h`,
	RunE: runMemory,
}

// statsCmd summarizes engagement tracking
var statsCmd = &cobra.Command{
	Use:   "stats [campaign-id]",
	Short: "Show engagement stats (recent campaigns if no id given)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStats,
}

// syncRepliesCmd pulls inbound replies from IMAP into the tracker
var syncRepliesCmd = &cobra.Command{
	Use:   "sync-replies",
	Short: "Fetch inbox replies and record them against past sends",
	RunE:  runSyncReplies,
}

func init() {
	memoryCmd.Flags().StringVar(&memDomain, "domain", "", "Filter by lead domain")
	memoryCmd.Flags().StringVar(&memCampaign, "campaign", "", "Filter by campaign ID")
	memoryCmd.Flags().IntVar(&memLimit, "limit", 20, "Maximum entries to show")
	memoryCmd.Flags().DurationVar(&memSince, "since", 0, "Only entries newer than this (e.g. 72h)")
}

func runMemory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mem, err := memory.Open(cfg.MemoryPath())
	if err != nil {
		return err
	}
	defer mem.Close()

	filter := memory.Filter{
		Domain:   memDomain,
		Campaign: memCampaign,
		Limit:    memLimit,
	}
	if memSince > 0 {
		filter.Since = time.Now().Add(-memSince)
	}
	entries, err := mem.Query(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No memory entries match.")
		return nil
	}

	for _, e := range entries {
		fmt.Printf("%s  %-22s %s\n",
			e.Timestamp.Format("2006-01-02 15:04"), e.CampaignID, describeEntry(e))
	}
	fmt.Printf("\n%d entries\n", len(entries))
	return nil
}

// describeEntry renders one log line: insights lead with a bulb, sends with
// the recipient and its latest outcome.
func describeEntry(e memory.Entry) string {
	if e.Insight != "" {
		return "💡 " + clipText(e.Insight, 90)
	}
	if e.ContentSent != "" {
		line := "📨 " + e.LeadEmail
		if e.Outcome != "" && e.Outcome != memory.SignalUnknown {
			line += fmt.Sprintf(" [%s]", e.Outcome)
		}
		return line
	}
	return string(e.Outcome)
}

func clipText(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	trk, err := tracker.Open(cfg.EngagementDB())
	if err != nil {
		return err
	}
	defer trk.Close()

	if len(args) > 0 {
		return printCampaignStats(trk, args[0])
	}
	return printRecentStats(trk)
}

func printCampaignStats(trk *tracker.Tracker, id string) error {
	st, err := trk.CampaignStats(id)
	if err != nil {
		return err
	}
	if st.Sends == 0 {
		fmt.Printf("No sends tracked for campaign %s.\n", id)
		return nil
	}

	fmt.Println("╔══════════════════════════════════════════════════════════╗")
	fmt.Println("║              📊 ENGAGEMENT: " + padCell(id, 28) + " ║")
	fmt.Println("╚══════════════════════════════════════════════════════════╝")
	fmt.Printf("  Sends:    %d\n", st.Sends)
	fmt.Printf("  Opens:    %d unique (%.1f%%)\n", st.UniqueOpens, st.OpenRate*100)
	fmt.Printf("  Clicks:   %d unique (%.1f%%)\n", st.UniqueClicks, st.ClickRate*100)
	fmt.Printf("  Replies:  %d unique (%.1f%%)\n", st.UniqueReplies, st.ReplyRate*100)
	if st.AvgPositivity > 0 {
		fmt.Printf("  Avg reply positivity: %.2f\n", st.AvgPositivity)
	}
	return nil
}

func printRecentStats(trk *tracker.Tracker) error {
	rates, err := trk.RecentCampaignRates(5)
	if err != nil {
		return err
	}
	if rates.Campaigns == 0 {
		fmt.Println("No engagement data yet.")
		return nil
	}

	fmt.Printf("📊 Last %d campaigns: %d sends\n", rates.Campaigns, rates.Sends)
	fmt.Printf("  Open rate:  %.1f%%\n", rates.OpenRate*100)
	fmt.Printf("  Click rate: %.1f%%\n", rates.ClickRate*100)
	fmt.Printf("  Reply rate: %.1f%%\n", rates.ReplyRate*100)

	replies, err := trk.RecentReplies(5)
	if err != nil {
		return err
	}
	if len(replies) > 0 {
		fmt.Println("\nRecent replies:")
		for _, r := range replies {
			mood := "•"
			if r.Positivity >= 0.6 {
				mood = "🙂"
			} else if r.Positivity > 0 && r.Positivity < 0.4 {
				mood = "🙁"
			}
			fmt.Printf("  %s %s  %s (%s)\n", mood, r.At.Format("Jan 02"), r.Email, clipText(r.Excerpt, 60))
		}
	}
	return nil
}

// padCell fits s into width columns for the banner box.
func padCell(s string, width int) string {
	if len(s) > width {
		return s[:width-3] + "..."
	}
	return s + strings.Repeat(" ", width-len(s))
}

func runSyncReplies(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.IMAP.Host == "" {
		return fmt.Errorf("imap host not configured; set imap.host in %s", cfgPath)
	}

	reader, err := mail.NewReader(mail.ReaderOptions{
		Host:     cfg.IMAP.Host,
		Port:     cfg.IMAP.Port,
		Username: cfg.IMAP.Username,
		Password: cfg.IMAP.Password,
		Mailbox:  cfg.IMAP.Mailbox,
		Lookback: cfg.IMAPLookback(),
	})
	if err != nil {
		return err
	}
	trk, err := tracker.Open(cfg.EngagementDB())
	if err != nil {
		return err
	}
	defer trk.Close()
	mem, err := memory.Open(cfg.MemoryPath())
	if err != nil {
		return err
	}
	defer mem.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	fmt.Printf("📬 Syncing replies from %s...\n", cfg.IMAP.Host)
	n, err := mail.NewReplySync(reader, trk, mem).Run(ctx)
	if err != nil {
		return fmt.Errorf("reply sync: %w", err)
	}
	if n == 0 {
		fmt.Println("No new replies.")
	} else {
		fmt.Printf("✅ Recorded %d new replies\n", n)
	}
	return nil
}

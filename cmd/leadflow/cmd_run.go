package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"leadflow/cmd/leadflow/ui"
	"leadflow/internal/campaign"
	"leadflow/internal/config"
	"leadflow/internal/logging"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runCmd starts a new campaign
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a new outreach campaign",
	Long: `Starts a campaign over a lead dataset and drives it through every stage.

The dataset is the --dataset file, or the newest CSV in the uploads directory
when the flag is omitted. Press Ctrl+C to stop; the campaign saves its stage
and resumes later with 'leadflow resume'.

Examples:
  leadflow run --product "Acme CRM" --industry saas
  leadflow run --product "Acme CRM" --dataset ./leads/q3.csv --max-leads 50
  leadflow run --product "Acme CRM" --ui`,
	RunE: runCampaign,
}

// resumeCmd continues an interrupted campaign
var resumeCmd = &cobra.Command{
	Use:   "resume [campaign-id]",
	Short: "Resume an interrupted campaign from its saved stage",
	Args:  cobra.ExactArgs(1),
	RunE:  resumeCampaign,
}

// watchCmd runs campaigns automatically as datasets arrive
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the uploads directory and run a campaign per new dataset",
	Long: `Watches the uploads directory. When a new CSV settles (no writes for a
couple of seconds), a campaign is started for it with the flag parameters.
Campaigns run one at a time, in arrival order.`,
	RunE: runWatch,
}

func init() {
	runCmd.Flags().String("product", "", "Product or service being pitched (required)")
	runCmd.Flags().String("industry", "", "Target industry segment")
	runCmd.Flags().String("company-size", "", "Target company size bracket")
	runCmd.Flags().Int("max-leads", 0, "Cap on leads taken from the dataset (0 = all)")
	runCmd.Flags().String("dataset", "", "Lead CSV path (default: newest upload)")
	runCmd.Flags().String("id", "", "Campaign ID (default: generated)")
	runCmd.Flags().Bool("ui", false, "Show the live progress view")
	_ = runCmd.MarkFlagRequired("product")

	resumeCmd.Flags().Bool("ui", false, "Show the live progress view")

	watchCmd.Flags().String("product", "", "Product for auto-started campaigns (required)")
	watchCmd.Flags().String("industry", "", "Target industry for auto-started campaigns")
	_ = watchCmd.MarkFlagRequired("product")
}

func runCampaign(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	product, _ := cmd.Flags().GetString("product")
	industry, _ := cmd.Flags().GetString("industry")
	size, _ := cmd.Flags().GetString("company-size")
	maxLeads, _ := cmd.Flags().GetInt("max-leads")
	dataset, _ := cmd.Flags().GetString("dataset")
	id, _ := cmd.Flags().GetString("id")
	useUI, _ := cmd.Flags().GetBool("ui")

	if id == "" {
		id = campaign.NewID()
	}
	params := campaign.Params{
		Product:        product,
		TargetIndustry: industry,
		CompanySize:    size,
		MaxLeads:       maxLeads,
		Dataset:        dataset,
	}
	return executeCampaign(cfg, id, params, useUI)
}

func resumeCampaign(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	useUI, _ := cmd.Flags().GetBool("ui")

	// Params are ignored for an existing campaign; the stored ones apply.
	return executeCampaign(cfg, args[0], campaign.Params{}, useUI)
}

// executeCampaign wires the pipeline and drives one campaign to a terminal
// stage or a clean suspension.
func executeCampaign(cfg *config.Config, id string, params campaign.Params, useUI bool) error {
	pipe, err := openPipeline(cfg)
	if err != nil {
		return err
	}
	defer pipe.Close()

	eventCh := make(chan campaign.Event, 64)
	var progressCh chan campaign.Progress
	if useUI {
		progressCh = make(chan campaign.Progress, 32)
	}

	orch, err := pipe.orchestrator(id, params, progressCh, eventCh)
	if err != nil {
		return err
	}

	if useUI {
		return runWithUI(orch, id, cfg.Dispatch.DryRun, progressCh, eventCh)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ctrl+C stops claiming new work; in-flight sends finish and the stage
	// is saved before Run returns.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\nStopping after in-flight work completes...")
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Printf("🚀 Campaign %s (dry-run: %v)\n", id, cfg.Dispatch.DryRun)
	logger.Info("campaign starting",
		zap.String("id", id),
		zap.Bool("dry_run", cfg.Dispatch.DryRun))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range eventCh {
			printEvent(e)
		}
	}()

	rep, runErr := orch.Run(ctx)
	close(eventCh)
	<-done

	return finishRun(id, rep, runErr)
}

// runWithUI drives the campaign behind the bubbletea progress view. Signals
// are handled as key presses there; q and Ctrl+C cancel cooperatively.
func runWithUI(orch *campaign.Orchestrator, id string, dryRun bool, progressCh chan campaign.Progress, eventCh chan campaign.Event) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultCh := make(chan ui.RunResult, 1)
	go func() {
		rep, err := orch.Run(ctx)
		close(progressCh)
		close(eventCh)
		resultCh <- ui.RunResult{Report: rep, Err: err}
	}()

	model := ui.NewRunModel(ui.RunOptions{
		CampaignID: id,
		DryRun:     dryRun,
		Progress:   progressCh,
		Events:     eventCh,
		Result:     resultCh,
		Cancel:     cancel,
	})
	final, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	if err != nil {
		return fmt.Errorf("progress view failed: %w", err)
	}

	rep, runErr := final.(ui.RunModel).Result()
	return finishRun(id, rep, runErr)
}

// finishRun turns the orchestrator outcome into CLI output and exit state.
func finishRun(id string, rep *campaign.Report, runErr error) error {
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			fmt.Printf("\n⏸️  Campaign paused. Run 'leadflow resume %s' to continue.\n", id)
			return nil
		}
		if rep != nil {
			printReport(rep)
		}
		return fmt.Errorf("campaign failed: %w", runErr)
	}
	printReport(rep)
	return nil
}

func printEvent(e campaign.Event) {
	switch e.Type {
	case campaign.EventStageStarted:
		fmt.Printf("🔄 [%s] %s\n", e.Stage, e.Message)
	case campaign.EventStageCompleted:
		fmt.Printf("✅ [%s] %s\n", e.Stage, e.Message)
	case campaign.EventLoopEntered:
		fmt.Printf("🔁 %s\n", e.Message)
	case campaign.EventLoopExhausted:
		fmt.Printf("⚠️  %s\n", e.Message)
	case campaign.EventCancelled:
		fmt.Printf("⏸️  %s\n", e.Message)
	case campaign.EventCompleted:
		fmt.Printf("🏆 %s\n", e.Message)
	case campaign.EventFailed:
		fmt.Printf("❌ %s\n", e.Message)
	}
}

func printReport(rep *campaign.Report) {
	if rep == nil {
		return
	}
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                    CAMPAIGN REPORT                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Printf("\n📋 %s\n", rep.CampaignID)
	fmt.Printf("   Finished: %s | Duration: %s", rep.FinishedAt.Format(time.RFC822), rep.Duration)
	if rep.DryRun {
		fmt.Print(" | DRY RUN")
	}
	fmt.Println()
	fmt.Printf("   Leads: %d total | ✅ %d sent | ❌ %d failed | ⏭  %d skipped\n",
		rep.Total, rep.Sent, rep.Failed, rep.Skipped)
	if rep.FeedbackLoops > 0 {
		fmt.Printf("   Feedback loops: %d\n", rep.FeedbackLoops)
	}
	if rep.Error != "" {
		fmt.Printf("   Error: %s\n", rep.Error)
	}
	fmt.Printf("\nFull report: leadflow report %s\n", rep.CampaignID)
}

// settleDelay is how long a dataset must sit unchanged before the watcher
// treats the upload as finished.
const settleDelay = 2 * time.Second

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	product, _ := cmd.Flags().GetString("product")
	industry, _ := cmd.Flags().GetString("industry")

	uploads := cfg.UploadsDir()
	if err := os.MkdirAll(uploads, 0755); err != nil {
		return fmt.Errorf("create uploads dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(uploads); err != nil {
		return fmt.Errorf("watch %s: %w", uploads, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Printf("👀 Watching %s for new datasets. Ctrl+C to stop.\n", uploads)
	logging.Watch("watching uploads dir %s", uploads)

	// Uploads arrive over several writes; events are debounced per path
	// until the file settles.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nWatcher stopped.")
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if strings.ToLower(filepath.Ext(ev.Name)) != ".csv" {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			pending[ev.Name] = time.Now()
			logging.WatchDebug("dataset event %s %s", ev.Op, ev.Name)

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Watch("watcher error: %v", werr)

		case <-ticker.C:
			for path, at := range pending {
				if time.Since(at) < settleDelay {
					continue
				}
				delete(pending, path)

				fmt.Printf("\n📂 New dataset: %s\n", filepath.Base(path))
				params := campaign.Params{
					Product:        product,
					TargetIndustry: industry,
					Dataset:        path,
				}
				if err := executeCampaign(cfg, campaign.NewID(), params, false); err != nil {
					fmt.Fprintf(os.Stderr, "campaign for %s failed: %v\n", filepath.Base(path), err)
				}
				if ctx.Err() != nil {
					return nil
				}
			}
		}
	}
}

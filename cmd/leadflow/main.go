package main

import (
	"fmt"
	"os"

	"leadflow/internal/campaign"
	"leadflow/internal/config"
	"leadflow/internal/dispatch"
	"leadflow/internal/llm"
	"leadflow/internal/logging"
	"leadflow/internal/mail"
	"leadflow/internal/memory"
	"leadflow/internal/tracker"
	"leadflow/internal/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is stamped by the release build.
var Version = "0.3.0-dev"

var (
	// Global flags
	cfgPath  string
	dataDir  string
	verbose  bool
	forceDry bool

	// Logger for command-level output; stage logs go to the categorized
	// file logger.
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "leadflow",
	Short: "leadflow - resumable cold outreach campaigns",
	Long: `leadflow runs multi-stage outreach campaigns over CSV lead datasets.

Each campaign moves through discovery, analysis, feedback insights, content
generation and outreach, persisting state after every stage so an interrupted
run resumes where it stopped. Past campaign outcomes feed the next campaign's
analysis through an append-only memory log and an engagement tracker.

Sends are dry-run by default. Set dispatch.dry_run: false in the config file
(or DRY_RUN_MODE=0) to go live.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// versionCmd prints the build version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the leadflow version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("leadflow %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "leadflow.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&forceDry, "dry-run", false, "Force dry-run regardless of config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(syncRepliesCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the YAML config and applies the global flag overrides.
// The categorized file logger is initialized here because every command
// that touches campaign state wants it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if forceDry {
		cfg.Dispatch.DryRun = true
	}
	if err := logging.Initialize(cfg.Logging.Dir, cfg.Logging.Level); err != nil {
		logger.Warn("file logging disabled", zap.Error(err))
	}
	return cfg, nil
}

// pipeline bundles everything a campaign run needs. Close releases the
// tracker and memory handles; the LLM client is closed with it.
type pipeline struct {
	cfg   *config.Config
	store *campaign.FileStore
	mem   *memory.Store
	trk   *tracker.Tracker
	llm   *llm.Client
	gate  *dispatch.Gate
}

// openPipeline wires the full campaign stack from config. The SMTP
// transport is only built for live runs; a dry-run gate never touches it.
func openPipeline(cfg *config.Config) (*pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := campaign.NewFileStore(cfg.CampaignsDir())
	if err != nil {
		return nil, err
	}
	mem, err := memory.Open(cfg.MemoryPath())
	if err != nil {
		return nil, err
	}
	trk, err := tracker.Open(cfg.EngagementDB())
	if err != nil {
		mem.Close()
		return nil, err
	}

	client, err := llm.New(llm.Options{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		EmbedModel:  cfg.LLM.EmbeddingModel,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLMTimeout(),
	})
	if err != nil {
		trk.Close()
		mem.Close()
		return nil, err
	}

	var transport types.Transport
	if !cfg.Dispatch.DryRun {
		sender, err := mail.NewSender(mail.SenderOptions{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			client.Close()
			trk.Close()
			mem.Close()
			return nil, fmt.Errorf("live run needs a working SMTP transport: %w", err)
		}
		transport = sender
	}
	gate := dispatch.NewGate(transport, dispatch.Options{
		DryRun:        cfg.Dispatch.DryRun,
		RatePerMinute: cfg.Dispatch.RatePerMinute,
		MaxAttempts:   cfg.Dispatch.MaxAttempts,
		RetryBase:     cfg.RetryBase(),
		RetryMax:      cfg.RetryMax(),
	})

	return &pipeline{cfg: cfg, store: store, mem: mem, trk: trk, llm: client, gate: gate}, nil
}

func (p *pipeline) Close() {
	_ = p.llm.Close()
	_ = p.trk.Close()
	_ = p.mem.Close()
}

// nodes builds the five stage nodes in pipeline order.
func (p *pipeline) nodes() []campaign.Node {
	cc := p.cfg.Campaign
	return []campaign.Node{
		campaign.NewDiscoveryNode(p.cfg.UploadsDir()),
		campaign.NewAnalyzeNode(p.llm, p.llm, p.trk, cc.AnalysisWindow),
		campaign.NewFeedbackNode(p.llm),
		campaign.NewContentNode(p.llm, cc.ContentWorkers),
		campaign.NewOutreachNode(p.gate, p.trk, cc.OutreachWorkers),
	}
}

func (p *pipeline) orchestrator(id string, params campaign.Params, progressCh chan campaign.Progress, eventCh chan campaign.Event) (*campaign.Orchestrator, error) {
	return campaign.NewOrchestrator(campaign.Options{
		CampaignID:          id,
		Params:              params,
		Store:               p.store,
		Memory:              p.mem,
		Nodes:               p.nodes(),
		ConfidenceThreshold: p.cfg.Campaign.ConfidenceThreshold,
		MaxFeedbackLoops:    p.cfg.Campaign.MaxFeedbackLoops,
		DryRun:              p.cfg.Dispatch.DryRun,
		ProgressChan:        progressCh,
		EventChan:           eventCh,
	})
}

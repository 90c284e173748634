// Package logging provides categorized file-based logging for leadflow.
// Logs are written to the configured logs directory with separate files per
// category, date-prefixed for easy rotation. Before Initialize is called
// every logger is a silent no-op, which keeps tests and one-shot commands
// quiet.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup and shutdown
	CategoryCampaign Category = "campaign" // Orchestrator transitions
	CategoryLeads    Category = "leads"    // Dataset ingestion, discovery
	CategoryAnalysis Category = "analysis" // Historical performance analysis
	CategoryInsights Category = "insights" // Feedback insight extraction
	CategoryContent  Category = "content"  // Email generation
	CategoryOutreach Category = "outreach" // Per-lead send loop
	CategoryDispatch Category = "dispatch" // Gate decisions, retries, rate limiting
	CategoryLLM      Category = "llm"      // LLM API calls
	CategoryMemory   Category = "memory"   // Append-only memory store
	CategoryTracker  Category = "tracker"  // Engagement DB
	CategoryMail     Category = "mail"     // SMTP/IMAP wire activity
	CategoryWatch    Category = "watch"    // Uploads watcher
)

// Logger wraps a standard logger with category and file output
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	logLevel  int
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and level. Call once at startup;
// until then all loggers are no-ops.
func Initialize(dir, level string) error {
	if dir == "" {
		return fmt.Errorf("logs directory required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	loggersMu.Lock()
	logsDir = dir
	logLevel = parseLevel(level)
	loggersMu.Unlock()

	boot := Get(CategoryBoot)
	boot.Info("=== leadflow logging initialized ===")
	boot.Info("Logs directory: %s", dir)
	boot.Info("Log level: %s", level)

	return nil
}

func parseLevel(level string) int {
	switch level {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Enabled reports whether Initialize has run.
func Enabled() bool {
	loggersMu.RLock()
	defer loggersMu.RUnlock()
	return logsDir != ""
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger until Initialize has run.
func Get(category Category) *Logger {
	loggersMu.RLock()
	if logsDir == "" {
		loggersMu.RUnlock()
		return &Logger{category: category}
	}
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps one file per category per day
	date := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", date, category)
	logPath := filepath.Join(logsDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l

	return l
}

// Debug logs a debug message (only if level <= debug)
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message (only if level <= info)
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message (only if level <= warn)
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message (always logged if logger exists)
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
	logsDir = ""
}

// =============================================================================
// CAMPAIGN-SCOPED LOGGING - Correlate lines across stages of one run
// =============================================================================

// CampaignLogger prefixes every line with the campaign ID so a single run
// can be traced across category files.
type CampaignLogger struct {
	logger     *Logger
	campaignID string
}

// WithCampaign creates a campaign-scoped logger.
func WithCampaign(category Category, campaignID string) *CampaignLogger {
	return &CampaignLogger{
		logger:     Get(category),
		campaignID: campaignID,
	}
}

func (c *CampaignLogger) formatMsg(format string, args ...interface{}) string {
	return fmt.Sprintf("[campaign:%s] %s", c.campaignID, fmt.Sprintf(format, args...))
}

func (c *CampaignLogger) Debug(format string, args ...interface{}) {
	if c.logger.logger == nil || logLevel > LevelDebug {
		return
	}
	c.logger.logger.Printf("[DEBUG] %s", c.formatMsg(format, args...))
}

func (c *CampaignLogger) Info(format string, args ...interface{}) {
	if c.logger.logger == nil || logLevel > LevelInfo {
		return
	}
	c.logger.logger.Printf("[INFO] %s", c.formatMsg(format, args...))
}

func (c *CampaignLogger) Warn(format string, args ...interface{}) {
	if c.logger.logger == nil || logLevel > LevelWarn {
		return
	}
	c.logger.logger.Printf("[WARN] %s", c.formatMsg(format, args...))
}

func (c *CampaignLogger) Error(format string, args ...interface{}) {
	if c.logger.logger == nil {
		return
	}
	c.logger.logger.Printf("[ERROR] %s", c.formatMsg(format, args...))
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// BootError logs error to the boot category
func BootError(format string, args ...interface{}) {
	Get(CategoryBoot).Error(format, args...)
}

// Campaign logs to the campaign category
func Campaign(format string, args ...interface{}) {
	Get(CategoryCampaign).Info(format, args...)
}

// CampaignDebug logs debug to the campaign category
func CampaignDebug(format string, args ...interface{}) {
	Get(CategoryCampaign).Debug(format, args...)
}

// CampaignWarn logs warning to the campaign category
func CampaignWarn(format string, args ...interface{}) {
	Get(CategoryCampaign).Warn(format, args...)
}

// CampaignError logs error to the campaign category
func CampaignError(format string, args ...interface{}) {
	Get(CategoryCampaign).Error(format, args...)
}

// Leads logs to the leads category
func Leads(format string, args ...interface{}) {
	Get(CategoryLeads).Info(format, args...)
}

// LeadsDebug logs debug to the leads category
func LeadsDebug(format string, args ...interface{}) {
	Get(CategoryLeads).Debug(format, args...)
}

// LeadsWarn logs warning to the leads category
func LeadsWarn(format string, args ...interface{}) {
	Get(CategoryLeads).Warn(format, args...)
}

// Analysis logs to the analysis category
func Analysis(format string, args ...interface{}) {
	Get(CategoryAnalysis).Info(format, args...)
}

// AnalysisDebug logs debug to the analysis category
func AnalysisDebug(format string, args ...interface{}) {
	Get(CategoryAnalysis).Debug(format, args...)
}

// Insights logs to the insights category
func Insights(format string, args ...interface{}) {
	Get(CategoryInsights).Info(format, args...)
}

// InsightsDebug logs debug to the insights category
func InsightsDebug(format string, args ...interface{}) {
	Get(CategoryInsights).Debug(format, args...)
}

// InsightsWarn logs warning to the insights category
func InsightsWarn(format string, args ...interface{}) {
	Get(CategoryInsights).Warn(format, args...)
}

// Content logs to the content category
func Content(format string, args ...interface{}) {
	Get(CategoryContent).Info(format, args...)
}

// ContentDebug logs debug to the content category
func ContentDebug(format string, args ...interface{}) {
	Get(CategoryContent).Debug(format, args...)
}

// ContentWarn logs warning to the content category
func ContentWarn(format string, args ...interface{}) {
	Get(CategoryContent).Warn(format, args...)
}

// Outreach logs to the outreach category
func Outreach(format string, args ...interface{}) {
	Get(CategoryOutreach).Info(format, args...)
}

// OutreachDebug logs debug to the outreach category
func OutreachDebug(format string, args ...interface{}) {
	Get(CategoryOutreach).Debug(format, args...)
}

// OutreachWarn logs warning to the outreach category
func OutreachWarn(format string, args ...interface{}) {
	Get(CategoryOutreach).Warn(format, args...)
}

// OutreachError logs error to the outreach category
func OutreachError(format string, args ...interface{}) {
	Get(CategoryOutreach).Error(format, args...)
}

// Dispatch logs to the dispatch category
func Dispatch(format string, args ...interface{}) {
	Get(CategoryDispatch).Info(format, args...)
}

// DispatchDebug logs debug to the dispatch category
func DispatchDebug(format string, args ...interface{}) {
	Get(CategoryDispatch).Debug(format, args...)
}

// DispatchWarn logs warning to the dispatch category
func DispatchWarn(format string, args ...interface{}) {
	Get(CategoryDispatch).Warn(format, args...)
}

// DispatchError logs error to the dispatch category
func DispatchError(format string, args ...interface{}) {
	Get(CategoryDispatch).Error(format, args...)
}

// LLM logs to the llm category
func LLM(format string, args ...interface{}) {
	Get(CategoryLLM).Info(format, args...)
}

// LLMDebug logs debug to the llm category
func LLMDebug(format string, args ...interface{}) {
	Get(CategoryLLM).Debug(format, args...)
}

// LLMError logs error to the llm category
func LLMError(format string, args ...interface{}) {
	Get(CategoryLLM).Error(format, args...)
}

// Memory logs to the memory category
func Memory(format string, args ...interface{}) {
	Get(CategoryMemory).Info(format, args...)
}

// MemoryDebug logs debug to the memory category
func MemoryDebug(format string, args ...interface{}) {
	Get(CategoryMemory).Debug(format, args...)
}

// MemoryError logs error to the memory category
func MemoryError(format string, args ...interface{}) {
	Get(CategoryMemory).Error(format, args...)
}

// Tracker logs to the tracker category
func Tracker(format string, args ...interface{}) {
	Get(CategoryTracker).Info(format, args...)
}

// TrackerDebug logs debug to the tracker category
func TrackerDebug(format string, args ...interface{}) {
	Get(CategoryTracker).Debug(format, args...)
}

// TrackerError logs error to the tracker category
func TrackerError(format string, args ...interface{}) {
	Get(CategoryTracker).Error(format, args...)
}

// Mail logs to the mail category
func Mail(format string, args ...interface{}) {
	Get(CategoryMail).Info(format, args...)
}

// MailDebug logs debug to the mail category
func MailDebug(format string, args ...interface{}) {
	Get(CategoryMail).Debug(format, args...)
}

// MailWarn logs warning to the mail category
func MailWarn(format string, args ...interface{}) {
	Get(CategoryMail).Warn(format, args...)
}

// MailError logs error to the mail category
func MailError(format string, args ...interface{}) {
	Get(CategoryMail).Error(format, args...)
}

// Watch logs to the watch category
func Watch(format string, args ...interface{}) {
	Get(CategoryWatch).Info(format, args...)
}

// WatchDebug logs debug to the watch category
func WatchDebug(format string, args ...interface{}) {
	Get(CategoryWatch).Debug(format, args...)
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}

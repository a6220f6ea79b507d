package cfg

import (
	"errors"
	"flag"
	"fmt"
	"time"
)

// Config holds the application-level settings main wires together. Each
// subsystem (enrich, verdict, review, engine) registers its own flags;
// this struct covers everything that does not belong to one of them.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	CorrelationWindow time.Duration

	ClaudeAPIKey string
	ClaudeModel  string

	DatabaseURL     string
	SlackWebhookURL string
	APIToken        string

	MISPEndpoint     string
	MISPAPIKey       string
	CortexEndpoint   string
	CortexAPIKey     string
	CortexAnalyzerID string
	TheHiveEndpoint  string
	TheHiveAPIKey    string
	WazuhEndpoint    string
	WazuhToken       string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.DurationVar(&c.CorrelationWindow, "correlation-window", 15*time.Minute, "time window for correlating alerts into one investigation")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-5", "Claude model used for verdict advisories")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory event store)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on mutating API routes (empty = open)")
	fs.StringVar(&c.MISPEndpoint, "misp-endpoint", "", "MISP endpoint for observable enrichment")
	fs.StringVar(&c.MISPAPIKey, "misp-api-key", "", "MISP API key")
	fs.StringVar(&c.CortexEndpoint, "cortex-endpoint", "", "Cortex endpoint for observable analysis")
	fs.StringVar(&c.CortexAPIKey, "cortex-api-key", "", "Cortex API key")
	fs.StringVar(&c.CortexAnalyzerID, "cortex-analyzer-id", "", "Cortex analyzer to run per observable")
	fs.StringVar(&c.TheHiveEndpoint, "thehive-endpoint", "", "TheHive endpoint for sighting lookups")
	fs.StringVar(&c.TheHiveAPIKey, "thehive-api-key", "", "TheHive API key")
	fs.StringVar(&c.WazuhEndpoint, "wazuh-endpoint", "", "Wazuh manager API endpoint for agent context")
	fs.StringVar(&c.WazuhToken, "wazuh-token", "", "Wazuh manager API token")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.CorrelationWindow <= 0 {
		errs = append(errs, fmt.Errorf("invalid CORRELATION_WINDOW %v (must be positive)", c.CorrelationWindow))
	}

	// Claude API key is required for verdict advisories
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	// Enrichment sources are optional, but a configured endpoint needs
	// its credential and vice versa.
	pairs := []struct {
		name     string
		endpoint string
		secret   string
	}{
		{"MISP", c.MISPEndpoint, c.MISPAPIKey},
		{"CORTEX", c.CortexEndpoint, c.CortexAPIKey},
		{"THEHIVE", c.TheHiveEndpoint, c.TheHiveAPIKey},
		{"WAZUH", c.WazuhEndpoint, c.WazuhToken},
	}
	for _, p := range pairs {
		if (p.endpoint == "") != (p.secret == "") {
			errs = append(errs, fmt.Errorf("%s_ENDPOINT and its credential must be set together", p.name))
		}
	}
	if c.CortexEndpoint != "" && c.CortexAnalyzerID == "" {
		errs = append(errs, errors.New("CORTEX_ANALYZER_ID is required when CORTEX_ENDPOINT is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Package profile holds the runtime configuration of the ledgerdesk server.
package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// LLM provider configuration (OpenAI-compatible protocol).
	LLMProvider string // openai, deepseek, openrouter, ollama, ...
	LLMAPIKey   string
	LLMBaseURL  string // optional, has a default per provider
	LLMModel    string
	LLMTimeout  int // request timeout in seconds (default: 30)

	// Record store (spreadsheet-backed) configuration.
	RecordStoreBaseURL string
	SpreadsheetID      string
	RecordStoreAPIKey  string

	// Accounting service configuration.
	AccountingBaseURL      string
	AccountingRealmID      string
	AccountingClientID     string
	AccountingClientSecret string
	AccountingTokenURL     string

	// Conversation engine tuning.
	MaxRounds       int // tool-call round cap per turn (default: 5)
	CacheTTLSeconds int // downstream cache TTL (default: 300)

	// Server configuration.
	Mode      string
	Addr      string
	Port      int
	Data      string
	Driver    string
	DSN       string
	JWTSecret string
	Version   string
}

// Provider default configurations for the LLM layer.
// Used when LEDGERDESK_LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "deepseek/deepseek-chat",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAccountingEnabled returns true when accounting credentials are configured.
func (p *Profile) IsAccountingEnabled() bool {
	return p.AccountingClientID != "" && p.AccountingClientSecret != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("LEDGERDESK_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("LEDGERDESK_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("LEDGERDESK_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("LEDGERDESK_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("LEDGERDESK_LLM_TIMEOUT_SECONDS", 30)

	if p.LLMProvider != "" {
		if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
			slog.Warn("unknown LLM provider, treating as generic OpenAI-compatible", "provider", p.LLMProvider)
		}
	}
	if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
		if p.LLMBaseURL == "" {
			p.LLMBaseURL = defaults.BaseURL
		}
		if p.LLMModel == "" {
			p.LLMModel = defaults.Model
		}
	}

	p.RecordStoreBaseURL = getEnvOrDefault("LEDGERDESK_RECORDSTORE_BASE_URL", "")
	p.SpreadsheetID = getEnvOrDefault("LEDGERDESK_SPREADSHEET_ID", "")
	p.RecordStoreAPIKey = getEnvOrDefault("LEDGERDESK_RECORDSTORE_API_KEY", "")

	p.AccountingBaseURL = getEnvOrDefault("LEDGERDESK_ACCOUNTING_BASE_URL", "")
	p.AccountingRealmID = getEnvOrDefault("LEDGERDESK_ACCOUNTING_REALM_ID", "")
	p.AccountingClientID = getEnvOrDefault("LEDGERDESK_ACCOUNTING_CLIENT_ID", "")
	p.AccountingClientSecret = getEnvOrDefault("LEDGERDESK_ACCOUNTING_CLIENT_SECRET", "")
	p.AccountingTokenURL = getEnvOrDefault("LEDGERDESK_ACCOUNTING_TOKEN_URL", "")

	p.MaxRounds = getEnvOrDefaultInt("LEDGERDESK_MAX_ROUNDS", 5)
	p.CacheTTLSeconds = getEnvOrDefaultInt("LEDGERDESK_CACHE_TTL_SECONDS", 300)

	p.JWTSecret = getEnvOrDefault("LEDGERDESK_JWT_SECRET", p.JWTSecret)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/ledgerdesk"
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("ledgerdesk_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	if p.MaxRounds <= 0 {
		p.MaxRounds = 5
	}
	if p.CacheTTLSeconds <= 0 {
		p.CacheTTLSeconds = 300
	}
	if p.LLMTimeout <= 0 {
		p.LLMTimeout = 30
	}

	return nil
}

// Package config handles Zeke configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/zeke/config.yaml, /etc/zeke/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "zeke", "config.yaml"))
	}

	paths = append(paths, "/etc/zeke/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Zeke configuration.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
	Parser      ParserConfig      `yaml:"parser"`
	SMS         SMSConfig         `yaml:"sms"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Calendar    CalendarConfig    `yaml:"calendar"`
	Search      SearchConfig      `yaml:"search"`
	Tools       ToolsConfig       `yaml:"tools"`
	Agent       AgentConfig       `yaml:"agent"`
	DataDir     string            `yaml:"data_dir"`
	ContactsVCF string            `yaml:"contacts_vcf"`
	LogLevel    string            `yaml:"log_level"`
	LogFormat   string            `yaml:"log_format"` // "text" (default) or "json"
}

// ListenConfig defines the admin API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// TranscriptsConfig defines the conversation-recorder source.
type TranscriptsConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// ParserConfig selects and configures the command parser.
type ParserConfig struct {
	// Provider is "rule" (deterministic, no network) or "llm".
	Provider  string `yaml:"provider"`
	OllamaURL string `yaml:"ollama_url"`
	Model     string `yaml:"model"`
}

// SMSConfig defines the outbound SMS gateway.
type SMSConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	From  string `yaml:"from"`
	// AdminPhone receives execution notifications when
	// notify_on_execution is enabled.
	AdminPhone string `yaml:"admin_phone"`
}

// MQTTConfig defines the optional broker for execution notifications.
type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BrokerURL string `yaml:"broker_url"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Topic     string `yaml:"topic"`
	ClientID  string `yaml:"client_id"`
}

// CalendarConfig defines the CalDAV target for schedule_event actions.
type CalendarConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Calendar is the collection path, e.g. /calendars/user/personal/.
	Calendar string `yaml:"calendar"`
}

// SearchConfig defines the metasearch endpoint for search_info actions.
type SearchConfig struct {
	URL string `yaml:"url"`
}

// ToolsConfig limits which tools commands may execute.
type ToolsConfig struct {
	// Allowed lists permitted tool names. "*" grants everything; an
	// empty list denies everything.
	Allowed []string `yaml:"allowed"`
}

// AgentConfig seeds the context-agent settings row on first run.
// After that the settings store is authoritative; admin toggles win.
type AgentConfig struct {
	Enabled             bool `yaml:"enabled"`
	LookbackHours       int  `yaml:"lookback_hours"`
	ScanIntervalMinutes int  `yaml:"scan_interval_minutes"`
	AutoExecute         bool `yaml:"auto_execute"`
	RequireApprovalSMS  bool `yaml:"require_approval_for_sms"`
	NotifyOnExecution   bool `yaml:"notify_on_execution"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:  ListenConfig{Port: 8080},
		DataDir: "data",
		Parser:  ParserConfig{Provider: "rule"},
		Tools:   ToolsConfig{Allowed: []string{"*"}},
		Agent: AgentConfig{
			Enabled:             true,
			LookbackHours:       4,
			ScanIntervalMinutes: 15,
			AutoExecute:         true,
			RequireApprovalSMS:  true,
			NotifyOnExecution:   true,
		},
	}
}

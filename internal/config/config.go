package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Placeholder values written to a fresh config file. Validate rejects them.
const (
	PlaceholderTenantID = "your-tenant-id-here"
	PlaceholderAgentURL = "your-data-agent-url-here"
)

type Config struct {
	DataDir       string `json:"data_dir" validate:"required"`
	LogLevel      string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
	MaxConcurrent int    `json:"max_concurrent" validate:"gte=1"`
	TenantID      string `json:"tenant_id" validate:"required,notplaceholder"`
	Agent         struct {
		URL                 string `json:"url" validate:"required,notplaceholder,url"`
		APIVersion          string `json:"api_version" validate:"required"`
		RunTimeoutSeconds   int    `json:"run_timeout_seconds" validate:"gte=1"`
		PollIntervalSeconds int    `json:"poll_interval_seconds" validate:"gte=1"`
	} `json:"agent"`
	Auth struct {
		Authority    string `json:"authority" validate:"required,url"`
		ClientID     string `json:"client_id" validate:"required"`
		ClientSecret string `json:"client_secret"`
		Scope        string `json:"scope" validate:"required"`
	} `json:"auth"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen" validate:"required_if=Enabled true"`
	} `json:"http"`
	History struct {
		Enabled  bool   `json:"enabled"`
		Database string `json:"database"`
	} `json:"history"`
}

// Default returns the configuration written on first load.
func Default() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".fabricagent"),
		LogLevel:      "info",
		MaxConcurrent: 2,
		TenantID:      PlaceholderTenantID,
	}
	cfg.Agent.URL = PlaceholderAgentURL
	cfg.Agent.APIVersion = "2024-05-01-preview"
	cfg.Agent.RunTimeoutSeconds = 120
	cfg.Agent.PollIntervalSeconds = 2
	cfg.Auth.Authority = "https://login.microsoftonline.com"
	cfg.Auth.ClientID = "04b07795-8ddb-461a-bbee-02f9e1bf7b46"
	cfg.Auth.Scope = "https://api.fabric.microsoft.com/.default offline_access"
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = ":5000"
	cfg.History.Enabled = true
	cfg.History.Database = "history.db"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if tenant := os.Getenv("TENANT_ID"); tenant != "" {
		cfg.TenantID = tenant
	}
	if url := os.Getenv("DATA_AGENT_URL"); url != "" {
		cfg.Agent.URL = url
	}
	if clientID := os.Getenv("AZURE_CLIENT_ID"); clientID != "" {
		cfg.Auth.ClientID = clientID
	}
	if secret := os.Getenv("AZURE_CLIENT_SECRET"); secret != "" {
		cfg.Auth.ClientSecret = secret
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.HTTP.Listen = ":" + port
	}

	return cfg, nil
}

// HistoryPath returns the history database path, resolved against DataDir
// when relative.
func (c *Config) HistoryPath() string {
	if filepath.IsAbs(c.History.Database) {
		return c.History.Database
	}
	return filepath.Join(c.DataDir, c.History.Database)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notplaceholder", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s != PlaceholderTenantID && s != PlaceholderAgentURL
	})
	return v
}

// Validate reports every invalid field, one per line.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fieldKey(fe.Namespace()), fe.Tag()))
	}
	return fmt.Errorf("invalid config:\n  %s", strings.Join(msgs, "\n  "))
}

// fieldKey maps a validator namespace like "Config.Agent.URL" to the
// dot-key used by config get/set.
func fieldKey(namespace string) string {
	switch namespace {
	case "Config.TenantID":
		return "tenant_id"
	case "Config.Agent.URL":
		return "agent.url"
	case "Config.Agent.APIVersion":
		return "agent.api_version"
	case "Config.Agent.RunTimeoutSeconds":
		return "agent.run_timeout_seconds"
	case "Config.Agent.PollIntervalSeconds":
		return "agent.poll_interval_seconds"
	case "Config.Auth.Authority":
		return "auth.authority"
	case "Config.Auth.ClientID":
		return "auth.client_id"
	case "Config.Auth.Scope":
		return "auth.scope"
	case "Config.HTTP.Listen":
		return "http.listen"
	case "Config.DataDir":
		return "data_dir"
	case "Config.LogLevel":
		return "log_level"
	case "Config.MaxConcurrent":
		return "max_concurrent"
	}
	return namespace
}

// Save writes cfg to path atomically, creating the directory.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	// 0600: the file may hold a client secret.
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap round-trips cfg through JSON. Numbers come back as float64.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns cfg as dot-keyed values, masking secrets when mask is
// set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue reads one dot-key from the file at path, creating defaults if the
// file is missing. Keys outside the Config struct are readable too.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(raw)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores one dot-key in the existing file at path. The value is
// parsed as JSON when it parses, and stored as a string otherwise.
func SetValue(path, key, value string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	raw, err := readRaw(path)
	if err != nil {
		return err
	}
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	flat := Flatten(raw)
	flat[key] = parsed

	doc, err := Unflatten(flat)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	m := map[string]any{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return m, nil
}

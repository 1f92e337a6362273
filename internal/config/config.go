package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the top-level intake configuration.
type Config struct {
	Server        ServerConfig        `json:"server"`
	API           APIConfig           `json:"api"`
	Provider      ProviderConfig      `json:"provider"`
	Transcription TranscriptionConfig `json:"transcription"`
	Session       SessionConfig       `json:"session"`
	Appointments  AppointmentsConfig  `json:"appointments"`
	Branding      BrandingConfig      `json:"branding"`
	Storage       StorageConfig       `json:"storage"`
	Dedupe        DedupeConfig        `json:"dedupe"`
	WhatsApp      *WhatsAppConfig     `json:"whatsapp,omitempty"`
	Telegram      *TelegramConfig     `json:"telegram,omitempty"`
	Webhook       *WebhookConfig      `json:"webhook,omitempty"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	LogLevel  string `json:"log_level,omitempty"`  // debug, info (default), warn, error
	LogFormat string `json:"log_format,omitempty"` // json (default) or text
	LogBuffer int    `json:"log_buffer,omitempty"` // entries kept for /api/logs
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Key            string   `json:"api_key,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// ProviderConfig holds LLM provider settings.
type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "openai" (default) or "anthropic"
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`

	// ClassifyTimeout and ReplyTimeout bound the two LLM calls. Their sum
	// must fit inside every channel's process timeout.
	ClassifyTimeout Duration `json:"classify_timeout,omitempty"`
	ReplyTimeout    Duration `json:"reply_timeout,omitempty"`
}

// DefaultProcessTimeout bounds one inbound message turn on the WhatsApp
// and Telegram connectors.
const DefaultProcessTimeout = Duration(15 * time.Second)

// TranscriptionConfig holds speech-to-text settings. An empty APIKey
// disables transcription; voice notes are then answered with the audio
// failure reply.
type TranscriptionConfig struct {
	URL          string   `json:"url,omitempty"`
	APIKey       string   `json:"api_key,omitempty"`
	Model        string   `json:"model,omitempty"`
	Language     string   `json:"language,omitempty"`
	FetchTimeout Duration `json:"fetch_timeout,omitempty"`
	Timeout      Duration `json:"timeout,omitempty"`
	MaxBytes     int64    `json:"max_bytes,omitempty"`
}

// SessionConfig holds session lifetime settings.
type SessionConfig struct {
	IdleTTL          Duration `json:"idle_ttl,omitempty"`
	StuckTTL         Duration `json:"stuck_ttl,omitempty"`
	IdleSchedule     string   `json:"idle_schedule,omitempty"`
	StuckSchedule    string   `json:"stuck_schedule,omitempty"`
	FollowUpDelay    Duration `json:"follow_up_delay,omitempty"`
	TicketClearDelay Duration `json:"ticket_clear_delay,omitempty"`
}

// AppointmentsConfig holds booking dialogue settings.
type AppointmentsConfig struct {
	Enabled           *bool    `json:"enabled,omitempty"` // default true
	DeclineClearDelay Duration `json:"decline_clear_delay,omitempty"`
	BookedClearDelay  Duration `json:"booked_clear_delay,omitempty"`
}

// IsEnabled reports whether the booking offer follows a ticket.
func (a AppointmentsConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// BrandingConfig holds the contact copy printed on tickets and confirmations.
type BrandingConfig struct {
	PlatformURL  string `json:"platform_url,omitempty"`
	SupportEmail string `json:"support_email,omitempty"`
	SupportPhone string `json:"support_phone,omitempty"`
}

// StorageConfig selects the case and appointment ledger.
type StorageConfig struct {
	Type string `json:"type,omitempty"` // "memory" (default) or "sqlite"
	Path string `json:"path,omitempty"`
}

// DedupeConfig selects the duplicate-delivery filter.
type DedupeConfig struct {
	Type     string   `json:"type,omitempty"` // "memory" (default) or "redis"
	RedisURL string   `json:"redis_url,omitempty"`
	TTL      Duration `json:"ttl,omitempty"`
}

// WhatsAppConfig holds Meta Cloud API settings.
type WhatsAppConfig struct {
	PhoneNumberID string `json:"phone_number_id"`
	AccessToken   string `json:"access_token"`
	VerifyToken   string `json:"verify_token"`
	AppSecret     string `json:"app_secret,omitempty"`
	GraphURL      string `json:"graph_url,omitempty"`

	// ProcessTimeout bounds the background handling of one message.
	ProcessTimeout Duration `json:"process_timeout,omitempty"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token          string   `json:"token"`
	AllowFrom      []int64  `json:"allow_from,omitempty"`
	ProcessTimeout Duration `json:"process_timeout,omitempty"`
}

// WebhookConfig maps generic webhook endpoint names to their auth.
type WebhookConfig struct {
	Endpoints map[string]WebhookEndpoint `json:"endpoints"`
}

// WebhookEndpoint holds one endpoint's auth. Secret wins over BearerToken.
type WebhookEndpoint struct {
	Secret      string `json:"secret,omitempty"`
	BearerToken string `json:"bearer_token,omitempty"`
}

// Duration is a time.Duration read from JSON as "90s"/"5m" or as a number
// of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*d = Duration(time.Duration(x * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("invalid duration %q", x)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return parse(data, path)
}

func parse(data []byte, source string) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", source, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads KEY=value pairs from the given files (".env" when none
// are given) into the environment. Missing files are skipped; variables
// already set are left alone.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromEnv builds a config from environment variables with the INTAKE_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			LogLevel:  os.Getenv("INTAKE_LOG_LEVEL"),
			LogFormat: os.Getenv("INTAKE_LOG_FORMAT"),
		},
		API: APIConfig{
			Host: getenv("INTAKE_API_HOST", "0.0.0.0"),
			Port: getenvInt("INTAKE_API_PORT", 8080),
			Key:  os.Getenv("INTAKE_API_KEY"),
		},
		Provider: ProviderConfig{
			Type:    os.Getenv("INTAKE_PROVIDER_TYPE"),
			APIKey:  getenv("INTAKE_PROVIDER_API_KEY", os.Getenv("OPENAI_API_KEY")),
			BaseURL: os.Getenv("INTAKE_PROVIDER_BASE_URL"),
			Model:   os.Getenv("INTAKE_MODEL"),
		},
		Transcription: TranscriptionConfig{
			URL:      os.Getenv("INTAKE_WHISPER_URL"),
			APIKey:   os.Getenv("INTAKE_WHISPER_API_KEY"),
			Model:    os.Getenv("INTAKE_WHISPER_MODEL"),
			Language: os.Getenv("INTAKE_WHISPER_LANGUAGE"),
		},
		Storage: StorageConfig{
			Type: os.Getenv("INTAKE_STORAGE"),
			Path: os.Getenv("INTAKE_SQLITE_PATH"),
		},
		Dedupe: DedupeConfig{
			Type:     os.Getenv("INTAKE_DEDUPE"),
			RedisURL: os.Getenv("INTAKE_REDIS_URL"),
		},
		Branding: BrandingConfig{
			PlatformURL:  os.Getenv("INTAKE_PLATFORM_URL"),
			SupportEmail: os.Getenv("INTAKE_SUPPORT_EMAIL"),
			SupportPhone: os.Getenv("INTAKE_SUPPORT_PHONE"),
		},
	}

	// The OpenAI key doubles as the Whisper key when none is given.
	if cfg.Transcription.APIKey == "" && (cfg.Provider.Type == "" || cfg.Provider.Type == "openai") {
		cfg.Transcription.APIKey = cfg.Provider.APIKey
	}

	var errs []string
	for key, dst := range map[string]*Duration{
		"INTAKE_IDLE_TTL":         &cfg.Session.IdleTTL,
		"INTAKE_STUCK_TTL":        &cfg.Session.StuckTTL,
		"INTAKE_FOLLOW_UP_DELAY":  &cfg.Session.FollowUpDelay,
		"INTAKE_CLASSIFY_TIMEOUT": &cfg.Provider.ClassifyTimeout,
		"INTAKE_REPLY_TIMEOUT":    &cfg.Provider.ReplyTimeout,
	} {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: invalid duration %q", key, v))
				continue
			}
			*dst = Duration(d)
		}
	}

	if v := os.Getenv("INTAKE_APPOINTMENTS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("INTAKE_APPOINTMENTS_ENABLED: invalid bool %q", v))
		} else {
			cfg.Appointments.Enabled = &enabled
		}
	}

	if id := os.Getenv("INTAKE_WHATSAPP_PHONE_NUMBER_ID"); id != "" {
		cfg.WhatsApp = &WhatsAppConfig{
			PhoneNumberID: id,
			AccessToken:   os.Getenv("INTAKE_WHATSAPP_ACCESS_TOKEN"),
			VerifyToken:   os.Getenv("INTAKE_WHATSAPP_VERIFY_TOKEN"),
			AppSecret:     os.Getenv("INTAKE_WHATSAPP_APP_SECRET"),
		}
	}

	if token := os.Getenv("INTAKE_TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram = &TelegramConfig{Token: token}
		if ids := os.Getenv("INTAKE_TELEGRAM_ALLOW_FROM"); ids != "" {
			parsed, err := parseInt64List(ids)
			if err != nil {
				errs = append(errs, fmt.Sprintf("INTAKE_TELEGRAM_ALLOW_FROM: %v", err))
			}
			cfg.Telegram.AllowFrom = parsed
		}
	}

	if token := os.Getenv("INTAKE_WEBHOOK_TOKEN"); token != "" {
		cfg.Webhook = &WebhookConfig{Endpoints: map[string]WebhookEndpoint{
			getenv("INTAKE_WEBHOOK_NAME", "web"): {BearerToken: token},
		}}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "json"
	}
	if c.Server.LogBuffer <= 0 {
		c.Server.LogBuffer = 2000
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Provider.Type == "" {
		c.Provider.Type = "openai"
	}
	if c.Provider.ClassifyTimeout <= 0 {
		c.Provider.ClassifyTimeout = Duration(6 * time.Second)
	}
	if c.Provider.ReplyTimeout <= 0 {
		c.Provider.ReplyTimeout = Duration(5 * time.Second)
	}
	if c.WhatsApp != nil && c.WhatsApp.ProcessTimeout <= 0 {
		c.WhatsApp.ProcessTimeout = DefaultProcessTimeout
	}
	if c.Telegram != nil && c.Telegram.ProcessTimeout <= 0 {
		c.Telegram.ProcessTimeout = DefaultProcessTimeout
	}
	if c.Storage.Type == "" {
		c.Storage.Type = "memory"
	}
	if c.Storage.Type == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = "intake.db"
	}
	if c.Dedupe.Type == "" {
		c.Dedupe.Type = "memory"
	}
}

// Validate checks for required fields and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Server.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("server.log_level %q is not one of debug, info, warn, error", c.Server.LogLevel))
	}
	switch c.Server.LogFormat {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("server.log_format %q is not json or text", c.Server.LogFormat))
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port %d is out of range", c.API.Port))
	}

	switch c.Provider.Type {
	case "", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Sprintf("provider.type %q is not openai or anthropic", c.Provider.Type))
	}
	if c.Provider.APIKey == "" {
		errs = append(errs, "provider.api_key is required")
	}
	llm := c.Provider.ClassifyTimeout + c.Provider.ReplyTimeout
	if c.WhatsApp != nil && c.WhatsApp.ProcessTimeout > 0 && llm >= c.WhatsApp.ProcessTimeout {
		errs = append(errs, fmt.Sprintf("provider.classify_timeout + provider.reply_timeout (%s) must be below whatsapp.process_timeout (%s)",
			llm.Std(), c.WhatsApp.ProcessTimeout.Std()))
	}
	if c.Telegram != nil && c.Telegram.ProcessTimeout > 0 && llm >= c.Telegram.ProcessTimeout {
		errs = append(errs, fmt.Sprintf("provider.classify_timeout + provider.reply_timeout (%s) must be below telegram.process_timeout (%s)",
			llm.Std(), c.Telegram.ProcessTimeout.Std()))
	}

	switch c.Storage.Type {
	case "", "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, "storage.path is required for sqlite")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.type %q is not memory or sqlite", c.Storage.Type))
	}

	switch c.Dedupe.Type {
	case "", "memory":
	case "redis":
		if c.Dedupe.RedisURL == "" {
			errs = append(errs, "dedupe.redis_url is required for redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("dedupe.type %q is not memory or redis", c.Dedupe.Type))
	}

	if w := c.WhatsApp; w != nil {
		if w.PhoneNumberID == "" {
			errs = append(errs, "whatsapp.phone_number_id is required")
		}
		if w.AccessToken == "" {
			errs = append(errs, "whatsapp.access_token is required")
		}
		if w.VerifyToken == "" {
			errs = append(errs, "whatsapp.verify_token is required")
		}
	}

	if c.Telegram != nil && c.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required")
	}

	if c.Webhook != nil && len(c.Webhook.Endpoints) == 0 {
		errs = append(errs, "webhook.endpoints must name at least one endpoint")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseInt64List(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	result := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		result = append(result, n)
	}
	return result, nil
}

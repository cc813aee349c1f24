package utils

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

type Config struct {
	port string

	imapAddr        string
	imapUser        string
	imapAppPassword string
	searchSubject   string
	markAsProcessed bool
	maxBodyChars    int

	caldavEnabled       bool
	caldavUrl           string
	caldavUsername      string
	caldavPassword      string
	caldavCalendarName  string
	caldavRetryAttempts int
	caldavRetryDelay    time.Duration
	caldavCacheTTL      time.Duration

	googleEnabled         bool
	googleCredentialsFile string
	googleTokenFile       string
	googleCalendarName    string
	googleCacheTTL        time.Duration

	groqApiKey string
	groqModel  string

	checkInterval time.Duration
	retryInterval time.Duration
	runOnce       bool
	location      *time.Location
	eventPrefix   string

	duplicateTitleThreshold float64
	duplicateDescThreshold  float64
	updateScoreThreshold    float64
}

func NewConfig() *Config {
	return &Config{
		port: func() string {
			port := os.Getenv("PORT")
			if port == "" {
				port = "8080"
			}
			slog.Debug("env", "PORT", port)
			return port
		}(),

		imapAddr: func() string {
			addr := os.Getenv("IMAP_ADDR")
			if addr == "" {
				addr = "imap.gmail.com:993"
			}
			slog.Debug("env", "IMAP_ADDR", addr)
			return addr
		}(),
		imapUser: func() string {
			user := os.Getenv("IMAP_USER")
			if user == "" {
				slog.Error("IMAP_USER is not set")
				os.Exit(1)
			}
			slog.Debug("env", "IMAP_USER", user)
			return user
		}(),
		imapAppPassword: func() string {
			password := os.Getenv("IMAP_APP_PASSWORD")
			if password == "" {
				slog.Error("IMAP_APP_PASSWORD is not set")
				os.Exit(1)
			}
			return password
		}(),
		searchSubject: func() string {
			subject := os.Getenv("SEARCH_SUBJECT")
			if subject == "" {
				slog.Warn("SEARCH_SUBJECT is not set")
				subject = "Meeting Request"
			}
			slog.Debug("env", "SEARCH_SUBJECT", subject)
			return subject
		}(),
		markAsProcessed: envBool("MARK_AS_PROCESSED", true),
		maxBodyChars:    envInt("MAX_EMAIL_BODY_CHARS", 3000),

		caldavEnabled: envBool("ENABLE_CALDAV", true),
		caldavUrl: func() string {
			url := os.Getenv("CALDAV_URL")
			if url == "" {
				url = "http://localhost:5232"
			}
			slog.Debug("env", "CALDAV_URL", url)
			return url
		}(),
		caldavUsername: os.Getenv("CALDAV_USERNAME"),
		caldavPassword: os.Getenv("CALDAV_PASSWORD"),
		caldavCalendarName: func() string {
			name := os.Getenv("CALENDAR_NAME")
			if name == "" {
				name = "default"
			}
			slog.Debug("env", "CALENDAR_NAME", name)
			return name
		}(),
		caldavRetryAttempts: envInt("CALDAV_RETRY_ATTEMPTS", 5),
		caldavRetryDelay:    envDuration("CALDAV_RETRY_DELAY", 10*time.Second),
		caldavCacheTTL:      envDuration("CALDAV_CACHE_TTL", 2*time.Minute),

		googleEnabled: envBool("ENABLE_GOOGLE_CALENDAR", true),
		googleCredentialsFile: func() string {
			path := os.Getenv("GOOGLE_CREDENTIALS_FILE")
			if path == "" {
				path = "./credentials/google_credentials.json"
			}
			slog.Debug("env", "GOOGLE_CREDENTIALS_FILE", path)
			return path
		}(),
		googleTokenFile: func() string {
			path := os.Getenv("GOOGLE_TOKEN_FILE")
			if path == "" {
				path = "./credentials/google_token.json"
			}
			slog.Debug("env", "GOOGLE_TOKEN_FILE", path)
			return path
		}(),
		googleCalendarName: func() string {
			name := os.Getenv("GOOGLE_CALENDAR_NAME")
			if name == "" {
				name = "primary"
			}
			slog.Debug("env", "GOOGLE_CALENDAR_NAME", name)
			return name
		}(),
		googleCacheTTL: envDuration("GOOGLE_CACHE_TTL", 5*time.Minute),

		groqApiKey: func() string {
			groqApiKey := os.Getenv("GROQ_API_KEY")
			if groqApiKey == "" {
				slog.Error("GROQ_API_KEY is not set")
				os.Exit(1)
			}
			slog.Debug("env", "GROQ_API_KEY", groqApiKey[0:3]+"...")
			return groqApiKey
		}(),
		groqModel: func() string {
			model := os.Getenv("GROQ_MODEL")
			if model == "" {
				model = "llama3-8b-8192"
			}
			slog.Debug("env", "GROQ_MODEL", model)
			return model
		}(),

		checkInterval: envDuration("CHECK_INTERVAL", time.Minute),
		retryInterval: envDuration("RETRY_INTERVAL", time.Minute),
		runOnce:       envBool("RUN_ONCE", false),
		location: func() *time.Location {
			timezoneStr := os.Getenv("TIMEZONE")
			var loc *time.Location
			var err error
			switch timezoneStr {
			case "":
				slog.Warn("TIMEZONE is not set, using local timezone", "timezone", time.Local)
				loc = time.Local
			case "UTC":
				loc = time.UTC
			default:
				loc, err = time.LoadLocation(timezoneStr)
				if err != nil {
					slog.Error("invalid timezone", "timezone", timezoneStr, "error", err)
					os.Exit(1)
				}
			}
			slog.Debug("env", "TIMEZONE", timezoneStr)
			return loc
		}(),
		eventPrefix: os.Getenv("EVENT_PREFIX"),

		duplicateTitleThreshold: envFloat("DUPLICATE_TITLE_THRESHOLD", 0.9),
		duplicateDescThreshold:  envFloat("DUPLICATE_DESC_THRESHOLD", 0.8),
		updateScoreThreshold:    envFloat("UPDATE_SCORE_THRESHOLD", 0.6),
	}
}

func envBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		slog.Debug("env", key, fallback)
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Error("invalid bool env", "key", key, "value", raw, "error", err)
		os.Exit(1)
	}
	slog.Debug("env", key, value)
	return value
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		slog.Debug("env", key, fallback)
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		slog.Error("invalid int env", "key", key, "value", raw, "error", err)
		os.Exit(1)
	}
	slog.Debug("env", key, value)
	return value
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		slog.Debug("env", key, fallback)
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Error("invalid float env", "key", key, "value", raw, "error", err)
		os.Exit(1)
	}
	slog.Debug("env", key, value)
	return value
}

// Accepts either a Go duration ("90s", "2m") or a bare number of seconds,
// the latter for compatibility with older deployments.
func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		slog.Debug("env", key, fallback)
		return fallback
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		value := time.Duration(seconds) * time.Second
		slog.Debug("env", key, value)
		return value
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		slog.Error("invalid duration env", "key", key, "value", raw, "error", err)
		os.Exit(1)
	}
	slog.Debug("env", key, value)
	return value
}

func (c *Config) GetPort() string                     { return c.port }
func (c *Config) GetImapAddr() string                 { return c.imapAddr }
func (c *Config) GetImapUser() string                 { return c.imapUser }
func (c *Config) GetImapAppPassword() string          { return c.imapAppPassword }
func (c *Config) GetSearchSubject() string            { return c.searchSubject }
func (c *Config) GetMarkAsProcessed() bool            { return c.markAsProcessed }
func (c *Config) GetMaxBodyChars() int                { return c.maxBodyChars }
func (c *Config) GetCaldavEnabled() bool              { return c.caldavEnabled }
func (c *Config) GetCaldavUrl() string                { return c.caldavUrl }
func (c *Config) GetCaldavUsername() string           { return c.caldavUsername }
func (c *Config) GetCaldavPassword() string           { return c.caldavPassword }
func (c *Config) GetCaldavCalendarName() string       { return c.caldavCalendarName }
func (c *Config) GetCaldavRetryAttempts() int         { return c.caldavRetryAttempts }
func (c *Config) GetCaldavRetryDelay() time.Duration  { return c.caldavRetryDelay }
func (c *Config) GetCaldavCacheTTL() time.Duration    { return c.caldavCacheTTL }
func (c *Config) GetGoogleEnabled() bool              { return c.googleEnabled }
func (c *Config) GetGoogleCredentialsFile() string    { return c.googleCredentialsFile }
func (c *Config) GetGoogleTokenFile() string          { return c.googleTokenFile }
func (c *Config) GetGoogleCalendarName() string       { return c.googleCalendarName }
func (c *Config) GetGoogleCacheTTL() time.Duration    { return c.googleCacheTTL }
func (c *Config) GetGroqApiKey() string               { return c.groqApiKey }
func (c *Config) GetGroqModel() string                { return c.groqModel }
func (c *Config) GetCheckInterval() time.Duration     { return c.checkInterval }
func (c *Config) GetRetryInterval() time.Duration     { return c.retryInterval }
func (c *Config) GetRunOnce() bool                    { return c.runOnce }
func (c *Config) GetLocation() *time.Location         { return c.location }
func (c *Config) GetEventPrefix() string              { return c.eventPrefix }
func (c *Config) GetDuplicateTitleThreshold() float64 { return c.duplicateTitleThreshold }
func (c *Config) GetDuplicateDescThreshold() float64  { return c.duplicateDescThreshold }
func (c *Config) GetUpdateScoreThreshold() float64    { return c.updateScoreThreshold }

package config

// Config is the whole process configuration. Duration fields are Go duration
// strings (e.g. "500ms", "30s", "2m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Store    StoreConfig    `json:"store"`
	Limits   LimitsConfig   `json:"limits,omitempty"`
	Dispatch DispatchConfig `json:"dispatch,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StoreConfig controls the encrypted document store and its write-back cache.
//
// Secret keys both the identifier hash and (when encrypt is true) the payload
// cipher. Changing it renders existing payloads undecryptable; affected users
// start over with empty data.
type StoreConfig struct {
	Path           string `json:"path"`
	Secret         string `json:"secret"`
	Encrypt        bool   `json:"encrypt"`
	Debounce       string `json:"debounce,omitempty"`         // default "30s"
	MaxCachedUsers int    `json:"max_cached_users,omitempty"` // default 128
}

type LimitsConfig struct {
	MaxTasks         int `json:"max_tasks,omitempty"`          // default 50
	MaxReminders     int `json:"max_reminders,omitempty"`      // default 20
	MaxContentLength int `json:"max_content_length,omitempty"` // default 200
}

type DispatchConfig struct {
	Enabled       *bool  `json:"enabled,omitempty"`        // default true
	Interval      string `json:"interval,omitempty"`       // default "2m"
	MaxConcurrent int    `json:"max_concurrent,omitempty"` // default 10
	FailureCap    int    `json:"failure_cap,omitempty"`    // default 5
	SendTimeout   string `json:"send_timeout,omitempty"`   // default "30s"
	HistorySize   int    `json:"history_size,omitempty"`
}

// DispatchEnabled resolves the pointer default: omitted means enabled.
func (c DispatchConfig) DispatchEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

package config

// LoggingConfig configures file logging. internal/logging reads the same keys
// straight from the config file.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level"`             // debug, info, warn, error
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode"`   // Master toggle - false = no logging (production)
	JSONFormat bool            `yaml:"json_format" json:"json_format"` // JSON lines instead of console text
	Categories map[string]bool `yaml:"categories" json:"categories"`   // Per-category toggles
}

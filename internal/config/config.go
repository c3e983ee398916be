package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	Bot           struct {
		CommandPrefix string `json:"command_prefix"`
		InfoText      string `json:"info_text"`
	} `json:"bot"`
	Telegram struct {
		Token             string  `json:"token"`
		MessagesPerSecond float64 `json:"messages_per_second"`
	} `json:"telegram"`
	Chatlog struct {
		Dir string `json:"dir"`
		Tag string `json:"tag"`
		Ext string `json:"ext"`
	} `json:"chatlog"`
	Shorten struct {
		Endpoint string `json:"endpoint"`
	} `json:"shorten"`
	Eval struct {
		Enabled        bool     `json:"enabled"`
		Command        string   `json:"command"`
		TimeoutSeconds int      `json:"timeout_seconds"`
		Blacklist      []string `json:"blacklist"`
		Dir            string   `json:"dir"`
	} `json:"eval"`
	Build struct {
		WorkDir            string `json:"work_dir"`
		TriggerSender      string `json:"trigger_sender"`
		TriggerMarker      string `json:"trigger_marker"`
		ReportTarget       string `json:"report_target"`
		Fetch              string `json:"fetch"`
		Configure          string `json:"configure"`
		Clean              string `json:"clean"`
		Compile            string `json:"compile"`
		Test               string `json:"test"`
		Toolchain          string `json:"toolchain"`
		RulesFile          string `json:"rules_file"`
		Schedule           string `json:"schedule"`
		StepTimeoutMinutes int    `json:"step_timeout_minutes"`
		MaxReport          int    `json:"max_report"`
	} `json:"build"`
	HTTP struct {
		Enabled bool   `json:"enabled"`
		Listen  string `json:"listen"`
		Token   string `json:"token"`
	} `json:"http"`
}

// Defaults returns the configuration written on first run.
func Defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".fancybot"),
		LogLevel:      "info",
		MaxConcurrent: 1,
	}
	cfg.Bot.CommandPrefix = "!"
	cfg.Bot.InfoText = "This is FancyBot running @ irc.fancy-lang.org"
	cfg.Telegram.MessagesPerSecond = 1
	cfg.Chatlog.Tag = "fancy"
	cfg.Chatlog.Ext = "log"
	cfg.Shorten.Endpoint = "http://tinyurl.com/api-create.php"
	cfg.Eval.Enabled = true
	cfg.Eval.Command = `fancy -e "%s"`
	cfg.Eval.TimeoutSeconds = 5
	cfg.Eval.Blacklist = []string{"File", "Directory", "System", "Process", "Thread", "Kernel"}
	cfg.Build.TriggerMarker = "[fancy]"
	cfg.Build.Fetch = "git pull"
	cfg.Build.Clean = "make clean"
	cfg.Build.Compile = "make"
	cfg.Build.Test = "make test"
	cfg.Build.Toolchain = "gnu"
	cfg.Build.StepTimeoutMinutes = 30
	cfg.Build.MaxReport = 5
	cfg.HTTP.Listen = "127.0.0.1:8420"
	return cfg
}

// LoadEnv reads .env files next to the config file and in the working
// directory. Variables already set in the environment win.
func LoadEnv(path string) {
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	_ = godotenv.Load()
}

func Load(path string) (*Config, error) {
	cfg := Defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if dataDir := os.Getenv("FANCYBOT_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if level := os.Getenv("FANCYBOT_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if listen := os.Getenv("FANCYBOT_HTTP_LISTEN"); listen != "" {
		cfg.HTTP.Listen = listen
	}
	if n := os.Getenv("FANCYBOT_MAX_CONCURRENT"); n != "" {
		v, err := strconv.Atoi(n)
		if err != nil {
			return nil, fmt.Errorf("FANCYBOT_MAX_CONCURRENT: %w", err)
		}
		cfg.MaxConcurrent = v
	}

	return cfg, nil
}

// ChatlogDir is where activity logs go.
func (c *Config) ChatlogDir() string {
	if c.Chatlog.Dir != "" {
		return c.Chatlog.Dir
	}
	return filepath.Join(c.DataDir, "logs")
}

// BuildDir is the source checkout the pipeline works in.
func (c *Config) BuildDir() string {
	if c.Build.WorkDir != "" {
		return c.Build.WorkDir
	}
	return filepath.Join(c.DataDir, "src")
}

// Save writes cfg to path atomically, creating the directory if needed.
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
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to the generic JSON object form.
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

// ListValues flattens cfg into dot-separated keys, masking secrets when
// mask is set.
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

// readRaw loads the file at path as a generic object, keeping keys the
// Config struct does not know about.
func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return m, nil
}

// GetValue returns the value stored under the dot-separated key in the
// config file at path. The file is created with defaults if missing.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return v, nil
}

// SetValue stores value under the dot-separated key in the config file at
// path. The key must exist in Config; value is converted to the key's type
// and validated before anything is written.
func SetValue(path, key, value string) error {
	typed, err := ParseValue(key, value)
	if err != nil {
		return err
	}
	m, err := readRaw(path)
	if err != nil {
		return err
	}
	flat := Flatten(m)
	flat[key] = typed

	nested, err := Unflatten(flat)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(nested, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := json.Unmarshal(data, Defaults()); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return writeFile(path, data)
}

// Copyright 2024-2026 Aiku AI

package connector

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"text/template"
	"time"

	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/moodle-rocketchat/pkg/rocketchat"
)

//go:embed example-config.yaml
var ExampleConfig string

const (
	defaultRequestTimeout    = 30
	defaultLogstoreInterval  = 60
	defaultLogstoreBatchSize = 100
	defaultNicknameTemplate  = "{{.FirstName}} {{.LastName}}"
)

// Config holds the service configuration.
type Config struct {
	RocketChat RocketChatConfig `yaml:"rocketchat"`

	CreateUserAccountIfNotExists bool   `yaml:"create_user_account_if_not_exists"`
	NicknameTemplate             string `yaml:"nickname_template"`
	// MaxGroupRenameAttempts bounds the name_N suffixes tried when a group
	// name is taken. 0 disables renaming.
	MaxGroupRenameAttempts int  `yaml:"max_group_rename_attempts"`
	SyncUserDeletion       bool `yaml:"sync_user_deletion"`
	VerboseMode            bool `yaml:"verbose_mode"`

	Database DatabaseConfig `yaml:"database"`

	// AdminAPIAddr is the listen address for the admin HTTP API, which
	// also receives webhook events. Empty disables it.
	AdminAPIAddr  string `yaml:"admin_api_addr"`
	AdminAPIToken string `yaml:"admin_api_token"`

	Logstore LogstoreConfig `yaml:"logstore"`
	NATS     NATSConfig     `yaml:"nats"`

	Logging zeroconfig.Config `yaml:"logging"`

	nicknameTemplate *template.Template `yaml:"-"`
}

// RocketChatConfig holds the Rocket.Chat connection settings.
type RocketChatConfig struct {
	InstanceURL    string `yaml:"instance_url"`
	RESTAPIRoot    string `yaml:"rest_api_root"`
	APIUser        string `yaml:"api_user"`
	APIPassword    string `yaml:"api_password"`
	APIUserID      string `yaml:"api_user_id"`
	APIToken       string `yaml:"api_token"`
	RequestTimeout int    `yaml:"request_timeout"`
}

// Timeout returns the per-request timeout.
func (rc RocketChatConfig) Timeout() time.Duration {
	return time.Duration(rc.RequestTimeout) * time.Second
}

// DatabaseConfig points at the Moodle database.
type DatabaseConfig struct {
	Type        string `yaml:"type"`
	URI         string `yaml:"uri"`
	TablePrefix string `yaml:"table_prefix"`
}

// LogstoreConfig controls the logstore poller.
type LogstoreConfig struct {
	Enabled   bool `yaml:"enabled"`
	Interval  int  `yaml:"interval"`
	BatchSize int  `yaml:"batch_size"`
	// Lookback is how many ids below the newest seen entry are re-read on
	// every poll, to pick up rows that committed out of id order.
	Lookback int   `yaml:"lookback"`
	StartID  int64 `yaml:"start_id"`
}

// NATSConfig controls the NATS event subscriber.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Queue   string `yaml:"queue"`
}

// NicknameParams holds the parameters for rendering the nickname template.
type NicknameParams struct {
	Username  string
	FirstName string
	LastName  string
	Email     string
}

var (
	ErrMissingInstanceURL = errors.New("rocketchat.instance_url is required")
	ErrMissingCredentials = errors.New("either rocketchat.api_user and api_password or api_user_id and api_token are required")
)

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess fills defaults for unset values and compiles the nickname
// template.
func (c *Config) PostProcess() error {
	if c.RocketChat.RESTAPIRoot == "" {
		c.RocketChat.RESTAPIRoot = rocketchat.DefaultRESTRoot
	}
	if c.RocketChat.RequestTimeout <= 0 {
		c.RocketChat.RequestTimeout = defaultRequestTimeout
	}
	if c.MaxGroupRenameAttempts < 0 {
		return fmt.Errorf("max_group_rename_attempts must not be negative, got %d", c.MaxGroupRenameAttempts)
	}
	if c.Database.TablePrefix == "" {
		c.Database.TablePrefix = "mdl_"
	}
	if c.Logstore.Interval <= 0 {
		c.Logstore.Interval = defaultLogstoreInterval
	}
	if c.Logstore.BatchSize <= 0 {
		c.Logstore.BatchSize = defaultLogstoreBatchSize
	}
	if c.Logstore.Lookback < 0 {
		return fmt.Errorf("logstore.lookback must not be negative, got %d", c.Logstore.Lookback)
	}
	if c.NicknameTemplate == "" {
		c.NicknameTemplate = defaultNicknameTemplate
	}
	var err error
	c.nicknameTemplate, err = template.New("nickname").Parse(c.NicknameTemplate)
	return err
}

// Validate checks that the Rocket.Chat connection can be attempted.
func (c *Config) Validate() error {
	rc := c.RocketChat
	if rc.InstanceURL == "" {
		return ErrMissingInstanceURL
	}
	hasPassword := rc.APIUser != "" && rc.APIPassword != ""
	hasToken := rc.APIUserID != "" && rc.APIToken != ""
	if !hasPassword && !hasToken {
		return ErrMissingCredentials
	}
	return nil
}

// MinLogLevel returns the configured minimum log level, lowered to debug when
// verbose mode is on.
func (c *Config) MinLogLevel() zerolog.Level {
	level := zerolog.InfoLevel
	if c.Logging.MinLevel != nil {
		level = *c.Logging.MinLevel
	}
	if c.VerboseMode && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}
	return level
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "rocketchat", "instance_url")
	helper.Copy(up.Str, "rocketchat", "rest_api_root")
	helper.Copy(up.Str, "rocketchat", "api_user")
	helper.Copy(up.Str, "rocketchat", "api_password")
	helper.Copy(up.Str, "rocketchat", "api_user_id")
	helper.Copy(up.Str, "rocketchat", "api_token")
	helper.Copy(up.Int, "rocketchat", "request_timeout")

	helper.Copy(up.Bool, "create_user_account_if_not_exists")
	helper.Copy(up.Str, "nickname_template")
	helper.Copy(up.Int, "max_group_rename_attempts")
	helper.Copy(up.Bool, "sync_user_deletion")
	helper.Copy(up.Bool, "verbose_mode")

	helper.Copy(up.Str, "database", "type")
	helper.Copy(up.Str, "database", "uri")
	helper.Copy(up.Str, "database", "table_prefix")

	helper.Copy(up.Str, "admin_api_addr")
	helper.Copy(up.Str, "admin_api_token")

	helper.Copy(up.Bool, "logstore", "enabled")
	helper.Copy(up.Int, "logstore", "interval")
	helper.Copy(up.Int, "logstore", "batch_size")
	helper.Copy(up.Int, "logstore", "lookback")
	helper.Copy(up.Int, "logstore", "start_id")

	helper.Copy(up.Bool, "nats", "enabled")
	helper.Copy(up.Str, "nats", "url")
	helper.Copy(up.Str, "nats", "subject")
	helper.Copy(up.Str, "nats", "queue")

	helper.Copy(up.Map, "logging")
}

// ConfigUpgrader merges user configs onto the embedded example config.
func ConfigUpgrader() *up.StructUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks: [][]string{
			{"create_user_account_if_not_exists"},
			{"database"},
			{"admin_api_addr"},
			{"logstore"},
			{"nats"},
			{"logging"},
		},
		Base: ExampleConfig,
	}
}

// LoadConfig reads the config file at path, upgrades it with any keys added
// to the example config, and post-processes it. When save is true the
// upgraded file is written back.
func LoadConfig(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, ConfigUpgrader())
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err = cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("failed to post-process config: %w", err)
	}
	return &cfg, nil
}

// WriteExampleConfig writes the embedded example config to path.
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(ExampleConfig), 0600)
}

// FormatNickname renders the nickname template. It falls back to the
// username when the template is missing, fails, or renders blank.
func (c *Config) FormatNickname(params NicknameParams) string {
	if c.nicknameTemplate == nil {
		return params.Username
	}
	var buf []byte
	err := c.nicknameTemplate.Execute(
		(*templateBuffer)(&buf),
		params,
	)
	if err != nil || len(bytes.TrimSpace(buf)) == 0 {
		return params.Username
	}
	return string(buf)
}

// templateBuffer is a simple io.Writer that appends to a byte slice.
type templateBuffer []byte

func (b *templateBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"flujos-esign/internal/domain/entity"
)

type Config struct {
	App          AppConfig          `mapstructure:"app"`
	ContentStore ContentStoreConfig `mapstructure:"content_store"`
	Signature    SignatureConfig    `mapstructure:"signature"`
	Workflow     WorkflowConfig     `mapstructure:"workflow"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	ERP          ERPConfig          `mapstructure:"erp"`
	Workspace    WorkspaceConfig    `mapstructure:"workspace"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Port int    `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

// ContentStoreConfig holds the Alfresco-compatible repository settings
type ContentStoreConfig struct {
	URL            string        `mapstructure:"url"`
	User           string        `mapstructure:"user"`
	Pass           string        `mapstructure:"pass"`
	RootID         string        `mapstructure:"root_id"`
	TimeoutSeconds int           `mapstructure:"timeout_seconds"`
	Timeout        time.Duration `mapstructure:"-"`
}

type SignatureConfig struct {
	DefaultPosition         string `mapstructure:"default_position"`
	DefaultOpaqueBackground bool   `mapstructure:"default_opaque_background"`
	DefaultAllPages         bool   `mapstructure:"default_all_pages"`
	MaxImageWidth           int    `mapstructure:"max_image_width"`
	FontPath                string `mapstructure:"font_path"`
	Location                string `mapstructure:"location"` // company city for /Location
}

type WorkflowConfig struct {
	RecipientActivityTTLDays int    `mapstructure:"recipient_activity_ttl_days"`
	RootFolder               string `mapstructure:"root_folder"`
	DedupWindowHours         int    `mapstructure:"dedup_window_hours"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	// every workflow action holds one connection for its locked transaction
	MaxOpenConns int `mapstructure:"max_open_conns"`
	MaxIdleConns int `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ERPConfig configures the ERP endpoint receiving activities and messages
type ERPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BaseURL  string `mapstructure:"base_url"`
	Company  string `mapstructure:"company"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Timeout  int    `mapstructure:"timeout"`
}

type WorkspaceConfig struct {
	BasePath string `mapstructure:"base_path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "flujos-esign")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.env", "development")

	// Empty defaults make the keys visible to AutomaticEnv during Unmarshal
	v.SetDefault("content_store.url", "")
	v.SetDefault("content_store.user", "")
	v.SetDefault("content_store.pass", "")
	v.SetDefault("content_store.root_id", "-root-")
	v.SetDefault("content_store.timeout_seconds", 30)

	v.SetDefault("signature.default_position", entity.PositionRight)
	v.SetDefault("signature.default_opaque_background", false)
	v.SetDefault("signature.default_all_pages", false)
	v.SetDefault("signature.max_image_width", 205)
	v.SetDefault("signature.font_path", "")
	v.SetDefault("signature.location", "")

	v.SetDefault("workflow.recipient_activity_ttl_days", 7)
	v.SetDefault("workflow.root_folder", "Sites/Flujos")
	v.SetDefault("workflow.dedup_window_hours", 24)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("erp.enabled", false)
	v.SetDefault("erp.timeout", 30)

	v.SetDefault("workspace.base_path", "")

	v.SetDefault("logging.level", "info")
}

func NewConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine when everything comes from the environment
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.ContentStore.URL == "" {
		return fmt.Errorf("content_store.url is required")
	}
	if c.ContentStore.User == "" || c.ContentStore.Pass == "" {
		return fmt.Errorf("content_store.user and content_store.pass are required")
	}
	c.ContentStore.URL = strings.TrimRight(c.ContentStore.URL, "/")
	if c.ContentStore.RootID == "" {
		c.ContentStore.RootID = "-root-"
	}
	if c.ContentStore.TimeoutSeconds <= 0 {
		c.ContentStore.TimeoutSeconds = 30
	}
	c.ContentStore.Timeout = time.Duration(c.ContentStore.TimeoutSeconds) * time.Second

	if !entity.IsValidPosition(c.Signature.DefaultPosition) {
		return fmt.Errorf("signature.default_position %q is not one of left, center_left, center_right, right", c.Signature.DefaultPosition)
	}
	if c.Signature.MaxImageWidth <= 0 {
		c.Signature.MaxImageWidth = 205
	}

	if c.Workflow.RecipientActivityTTLDays <= 0 {
		c.Workflow.RecipientActivityTTLDays = 7
	}
	if c.Workflow.DedupWindowHours <= 0 {
		c.Workflow.DedupWindowHours = 24
	}
	c.Workflow.RootFolder = strings.Trim(c.Workflow.RootFolder, "/")
	if c.Workflow.RootFolder == "" {
		c.Workflow.RootFolder = "Sites/Flujos"
	}

	if c.Workspace.BasePath == "" {
		c.Workspace.BasePath = os.TempDir()
	}

	return nil
}

// RecipientActivityTTL is the deadline given to recipient to-dos
func (c *Config) RecipientActivityTTL() time.Duration {
	return time.Duration(c.Workflow.RecipientActivityTTLDays) * 24 * time.Hour
}

// DedupWindow is how long an activity key suppresses duplicates
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.Workflow.DedupWindowHours) * time.Hour
}

// FolderSegments returns the anchor path split into folder names
func (c *Config) FolderSegments() []string {
	return strings.Split(c.Workflow.RootFolder, "/")
}

func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

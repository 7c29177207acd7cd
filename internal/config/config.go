package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config is read once at startup and treated as immutable afterwards.
// The file may be YAML or JSON; FILEDECK_* environment variables override it.
type Config struct {
	// Addr is the listen address.
	Addr string `yaml:"addr"`
	// Root is the directory served. Everything the UI touches stays below it.
	Root string `yaml:"root"`
	// StateDir stores thumbnails and in-progress chunked uploads.
	// Default: <user cache dir>/filedeck
	StateDir string `yaml:"state_dir"`
	Title    string `yaml:"title"`

	FM          FM          `yaml:"fm"`
	Upload      Upload      `yaml:"upload"`
	Auth        Auth        `yaml:"auth"`
	Security    Security    `yaml:"security"`
	Permissions Permissions `yaml:"permissions"`
	Log         Log         `yaml:"log"`

	// ExcludeItems are names (or doublestar patterns) hidden from listings.
	ExcludeItems []string `yaml:"exclude_items"`
}

type FM struct {
	ShowHidden bool `yaml:"show_hidden"`
	// DatetimeFormat is a Go time layout.
	DatetimeFormat string  `yaml:"datetime_format"`
	Columns        Columns `yaml:"columns"`
	// MaxEditSize caps files opened in the text editor, in bytes.
	MaxEditSize int64 `yaml:"max_edit_size"`
}

// Columns toggles optional listing columns. Name and actions always show.
type Columns struct {
	Size        bool `yaml:"size"`
	Owner       bool `yaml:"owner"`
	Modified    bool `yaml:"modified"`
	Permissions bool `yaml:"permissions"`
}

type Upload struct {
	MaxFileSize       int64    `yaml:"max_file_size"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	ChunkSize         int64    `yaml:"chunk_size"`
}

type Auth struct {
	// RequireLogin false signs every visitor in as DefaultUser.
	RequireLogin bool   `yaml:"require_login"`
	DefaultUser  string `yaml:"default_user"`
	// Users maps username to a bcrypt or argon2id hash, optionally with a role.
	Users       map[string]User `yaml:"users"`
	SessionName string          `yaml:"session_name"`
	// SessionLifetime is the idle timeout in seconds.
	SessionLifetime int  `yaml:"session_lifetime"`
	RememberMe      bool `yaml:"remember_me"`
	// RememberDuration is the remember-me cookie lifetime in seconds.
	RememberDuration int `yaml:"remember_duration"`
	// SecretKey signs remember-me tokens. A random key is generated when
	// empty, which invalidates tokens on restart.
	SecretKey string `yaml:"secret_key"`
	// WebDAV exposes the root under /dav/ with Basic auth.
	WebDAV bool `yaml:"webdav"`
}

// User accepts either a bare hash string or {password, role}.
type User struct {
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

func (u *User) UnmarshalYAML(unmarshal func(any) error) error {
	var hash string
	if err := unmarshal(&hash); err == nil {
		u.Password = hash
		return nil
	}
	type plain User
	return unmarshal((*plain)(u))
}

type Security struct {
	CSRFProtection   bool `yaml:"csrf_protection"`
	MaxLoginAttempts int  `yaml:"max_login_attempts"`
	// LoginCooldown is in seconds.
	LoginCooldown int  `yaml:"login_cooldown"`
	SecureCookies bool `yaml:"secure_cookies"`
}

type Permissions struct {
	DefaultRole string              `yaml:"default_role"`
	Roles       map[string][]string `yaml:"roles"`
}

type Log struct {
	Level       string   `yaml:"level"`
	Development bool     `yaml:"development"`
	OutputPaths []string `yaml:"output_paths"`
}

// Default mirrors the stock settings of the UI.
func Default() Config {
	return Config{
		Addr:  "127.0.0.1:8080",
		Title: "File Manager",
		FM: FM{
			ShowHidden:     true,
			DatetimeFormat: "2006-01-02 15:04:05",
			Columns:        Columns{Size: true, Owner: true, Modified: true, Permissions: true},
			MaxEditSize:    5 << 20,
		},
		Upload: Upload{
			MaxFileSize:       50 << 20,
			AllowedExtensions: []string{"*"},
			ChunkSize:         1 << 20,
		},
		Auth: Auth{
			RequireLogin:     true,
			DefaultUser:      "system",
			Users:            map[string]User{},
			SessionName:      "fm_session",
			SessionLifetime:  7200,
			RememberMe:       true,
			RememberDuration: 1800,
		},
		Security: Security{
			CSRFProtection:   true,
			MaxLoginAttempts: 3,
			LoginCooldown:    300,
		},
		Permissions: Permissions{
			DefaultRole: "admin",
			Roles: map[string][]string{
				"admin":  {"*"},
				"editor": {"upload", "download", "delete", "rename", "new_folder", "copy", "move", "view", "view_pdf", "extract", "zip"},
				"viewer": {"view", "view_pdf", "download"},
			},
		},
		Log: Log{
			Level:       "info",
			OutputPaths: []string{"stderr"},
		},
		ExcludeItems: []string{".git", ".gitignore", ".htaccess", "vendor", "node_modules"},
	}
}

// envOverrides lists the settings that can come from the environment. Only
// variables that are actually set replace file values.
type envOverrides struct {
	Addr              *string  `envconfig:"FILEDECK_ADDR"`
	Root              *string  `envconfig:"FILEDECK_ROOT"`
	StateDir          *string  `envconfig:"FILEDECK_STATE_DIR"`
	Title             *string  `envconfig:"FILEDECK_TITLE"`
	ShowHidden        *bool    `envconfig:"FILEDECK_SHOW_HIDDEN"`
	ExcludeItems      []string `envconfig:"FILEDECK_EXCLUDE_ITEMS"`
	MaxFileSize       *int64   `envconfig:"FILEDECK_MAX_FILE_SIZE"`
	AllowedExtensions []string `envconfig:"FILEDECK_ALLOWED_EXTENSIONS"`
	RequireLogin      *bool    `envconfig:"FILEDECK_REQUIRE_LOGIN"`
	DefaultRole       *string  `envconfig:"FILEDECK_DEFAULT_ROLE"`
	SecretKey         *string  `envconfig:"FILEDECK_SECRET_KEY"`
	WebDAV            *bool    `envconfig:"FILEDECK_WEBDAV"`
	CSRFProtection    *bool    `envconfig:"FILEDECK_CSRF_PROTECTION"`
	SecureCookies     *bool    `envconfig:"FILEDECK_SECURE_COOKIES"`
	LogLevel          *string  `envconfig:"FILEDECK_LOG_LEVEL"`
	LogDevelopment    *bool    `envconfig:"FILEDECK_LOG_DEVELOPMENT"`
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides, then each of overrides, and validates the result.
func Load(path string, overrides ...func(*Config)) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	for _, o := range overrides {
		o(&cfg)
	}
	if err := cfg.Finalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	setString(&cfg.Addr, env.Addr)
	setString(&cfg.Root, env.Root)
	setString(&cfg.StateDir, env.StateDir)
	setString(&cfg.Title, env.Title)
	setString(&cfg.Permissions.DefaultRole, env.DefaultRole)
	setString(&cfg.Auth.SecretKey, env.SecretKey)
	setString(&cfg.Log.Level, env.LogLevel)
	setBool(&cfg.FM.ShowHidden, env.ShowHidden)
	setBool(&cfg.Auth.RequireLogin, env.RequireLogin)
	setBool(&cfg.Auth.WebDAV, env.WebDAV)
	setBool(&cfg.Security.CSRFProtection, env.CSRFProtection)
	setBool(&cfg.Security.SecureCookies, env.SecureCookies)
	setBool(&cfg.Log.Development, env.LogDevelopment)
	if env.MaxFileSize != nil {
		cfg.Upload.MaxFileSize = *env.MaxFileSize
	}
	if env.ExcludeItems != nil {
		cfg.ExcludeItems = env.ExcludeItems
	}
	if env.AllowedExtensions != nil {
		cfg.Upload.AllowedExtensions = env.AllowedExtensions
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// Finalize resolves paths and checks cross-field constraints.
func (c *Config) Finalize() error {
	if strings.TrimSpace(c.Root) == "" {
		return errors.New("config: root is required")
	}
	abs, err := filepath.Abs(c.Root)
	if err != nil {
		return fmt.Errorf("config: root: %w", err)
	}
	c.Root = abs
	if c.StateDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		c.StateDir = filepath.Join(base, "filedeck")
	}
	if c.StateDir, err = filepath.Abs(c.StateDir); err != nil {
		return fmt.Errorf("config: state_dir: %w", err)
	}
	if c.Upload.MaxFileSize <= 0 {
		return errors.New("config: upload.max_file_size must be positive")
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		c.Upload.AllowedExtensions = []string{"*"}
	}
	if c.Security.MaxLoginAttempts <= 0 {
		return errors.New("config: security.max_login_attempts must be positive")
	}
	if c.Security.LoginCooldown < 0 || c.Auth.RememberDuration < 0 || c.Auth.SessionLifetime < 0 {
		return errors.New("config: durations must not be negative")
	}
	if _, ok := c.Permissions.Roles[c.Permissions.DefaultRole]; !ok {
		return fmt.Errorf("config: default_role %q is not defined", c.Permissions.DefaultRole)
	}
	for name, u := range c.Auth.Users {
		if u.Password == "" {
			return fmt.Errorf("config: user %q has no password hash", name)
		}
		if u.Role != "" {
			if _, ok := c.Permissions.Roles[u.Role]; !ok {
				return fmt.Errorf("config: user %q has unknown role %q", name, u.Role)
			}
		}
	}
	for _, pat := range c.ExcludeItems {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("config: invalid exclude pattern %q", pat)
		}
	}
	if c.Auth.SessionName == "" {
		c.Auth.SessionName = "fm_session"
	}
	return nil
}

// RoleFor returns the configured role of user, or the default role.
func (c *Config) RoleFor(user string) string {
	if u, ok := c.Auth.Users[user]; ok && u.Role != "" {
		return u.Role
	}
	return c.Permissions.DefaultRole
}

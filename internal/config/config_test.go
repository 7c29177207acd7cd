package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "filedeck.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	root := t.TempDir()
	t.Setenv("FILEDECK_ROOT", root)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, root, cfg.Root)
	assert.Equal(t, "File Manager", cfg.Title)
	assert.Equal(t, int64(50<<20), cfg.Upload.MaxFileSize)
	assert.Equal(t, []string{"*"}, cfg.Upload.AllowedExtensions)
	assert.Equal(t, 3, cfg.Security.MaxLoginAttempts)
	assert.Equal(t, 300, cfg.Security.LoginCooldown)
	assert.Equal(t, "admin", cfg.Permissions.DefaultRole)
	assert.Equal(t, []string{"view", "view_pdf", "download"}, cfg.Permissions.Roles["viewer"])
	assert.NotEmpty(t, cfg.StateDir)
}

func TestLoadFile(t *testing.T) {
	root := t.TempDir()
	p := writeConfig(t, `
root: `+root+`
title: Shared
fm:
  show_hidden: false
  columns:
    owner: false
upload:
  max_file_size: 1024
  allowed_extensions: [txt, md]
auth:
  users:
    alice: "$2a$10$abcdefghijklmnopqrstuu"
    bob:
      password: "$2a$10$abcdefghijklmnopqrstuu"
      role: viewer
permissions:
  default_role: editor
exclude_items: ["*.tmp", "**/cache"]
`)

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "Shared", cfg.Title)
	assert.False(t, cfg.FM.ShowHidden)
	assert.False(t, cfg.FM.Columns.Owner)
	assert.Equal(t, int64(1024), cfg.Upload.MaxFileSize)
	assert.Equal(t, []string{"txt", "md"}, cfg.Upload.AllowedExtensions)
	assert.Equal(t, "$2a$10$abcdefghijklmnopqrstuu", cfg.Auth.Users["alice"].Password)
	assert.Equal(t, "editor", cfg.RoleFor("alice"))
	assert.Equal(t, "viewer", cfg.RoleFor("bob"))
	assert.Equal(t, "editor", cfg.RoleFor("nobody"))
	assert.Equal(t, []string{"*.tmp", "**/cache"}, cfg.ExcludeItems)
}

func TestEnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	p := writeConfig(t, "root: /does/not/matter\ntitle: From File\n")
	t.Setenv("FILEDECK_ROOT", root)
	t.Setenv("FILEDECK_SHOW_HIDDEN", "false")
	t.Setenv("FILEDECK_MAX_FILE_SIZE", "2048")
	t.Setenv("FILEDECK_EXCLUDE_ITEMS", ".git,secret")
	t.Setenv("FILEDECK_DEFAULT_ROLE", "viewer")

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, root, cfg.Root)
	assert.Equal(t, "From File", cfg.Title)
	assert.False(t, cfg.FM.ShowHidden)
	assert.Equal(t, int64(2048), cfg.Upload.MaxFileSize)
	assert.Equal(t, []string{".git", "secret"}, cfg.ExcludeItems)
	assert.Equal(t, "viewer", cfg.Permissions.DefaultRole)
}

func TestLoadRejectsInvalid(t *testing.T) {
	root := t.TempDir()
	cases := map[string]string{
		"missing root":    "title: x\n",
		"unknown role":    "root: " + root + "\npermissions:\n  default_role: ghost\n",
		"user role":       "root: " + root + "\nauth:\n  users:\n    a:\n      password: h\n      role: ghost\n",
		"empty hash":      "root: " + root + "\nauth:\n  users:\n    a: \"\"\n",
		"bad pattern":     "root: " + root + "\nexclude_items: [\"[\"]\n",
		"zero attempts":   "root: " + root + "\nsecurity:\n  max_login_attempts: 0\n",
		"negative upload": "root: " + root + "\nupload:\n  max_file_size: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestLoadOverridesWinOverFileAndEnv(t *testing.T) {
	fileRoot, flagRoot := t.TempDir(), t.TempDir()
	t.Setenv("FILEDECK_ADDR", "0.0.0.0:9000")
	p := writeConfig(t, "root: "+fileRoot+"\n")

	cfg, err := Load(p, func(c *Config) {
		c.Root = flagRoot
		c.Addr = "127.0.0.1:7000"
	})
	require.NoError(t, err)
	assert.Equal(t, flagRoot, cfg.Root)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)

	// a root supplied only by an override is enough
	cfg, err = Load("", func(c *Config) { c.Root = flagRoot })
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
}

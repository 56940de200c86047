package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cfg "github.com/zjgordon/labportal/internal/config"
)

func isolateConfigDirs(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)
	t.Setenv("HOME", tmp)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(tmp); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return tmp
}

func TestLoadConfig_DefaultsWhenNoFile(t *testing.T) {
	isolateConfigDirs(t)

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), nil)
	if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		t.Fatalf("expected ConfigFileNotFoundError, got: %T %v", err, err)
	}
	if got.Database.Type != "sqlite" || got.Database.Dsn != "./labportal.db" {
		t.Fatalf("unexpected database defaults: %+v", got.Database)
	}
	if got.Server.RequestTimeout != 30*time.Second {
		t.Fatalf("expected 30s request timeout, got %s", got.Server.RequestTimeout)
	}
	if got.Pruner.RetentionDays != 90 || got.Pruner.BatchSize != 1000 {
		t.Fatalf("unexpected pruner defaults: %+v", got.Pruner)
	}
	if got.Dispatcher.ReclaimAfter != 0 {
		t.Fatalf("stale reclaim must be disabled by default, got %s", got.Dispatcher.ReclaimAfter)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadConfig_ReadsExplicitFile(t *testing.T) {
	tmp := isolateConfigDirs(t)
	yaml := "database:\n  type: postgres\n  dsn: postgresql://user@/db\npruner:\n  retention_days: 30\ndispatcher:\n  reclaim_after: 15m\n"
	file := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(file, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &file)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if got.Database.Type != "postgres" {
		t.Fatalf("expected postgres, got %q", got.Database.Type)
	}
	if got.Pruner.RetentionDays != 30 {
		t.Fatalf("expected 30 retention days, got %d", got.Pruner.RetentionDays)
	}
	if got.Pruner.BatchSize != 1000 {
		t.Fatalf("defaults should fill unset keys, got batch size %d", got.Pruner.BatchSize)
	}
	if got.Dispatcher.ReclaimAfter != 15*time.Minute {
		t.Fatalf("expected 15m reclaim, got %s", got.Dispatcher.ReclaimAfter)
	}
}

func TestLoadConfig_EnvironmentOverridesFile(t *testing.T) {
	tmp := isolateConfigDirs(t)
	file := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(file, []byte("server:\n  listen: \":9000\"\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	t.Setenv("LABPORTAL_SERVER_LISTEN", "127.0.0.1:7000")

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &file)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if got.Server.Listen != "127.0.0.1:7000" {
		t.Fatalf("expected env override, got %q", got.Server.Listen)
	}
}

func TestLoadConfig_FlagsOverrideEverything(t *testing.T) {
	isolateConfigDirs(t)
	t.Setenv("LABPORTAL_LOG_LEVEL", "warn")

	cmd := &cobra.Command{}
	cmd.Flags().String("log.level", "info", "")
	if err := cmd.Flags().Set("log.level", "debug"); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	got, _ := cfg.LoadConfig[cfg.Config](cmd, cfg.Defaults(), nil)
	if got.Log.Level != "debug" {
		t.Fatalf("expected flag value, got %q", got.Log.Level)
	}
}

func TestWriteConfigFile_RoundTrip(t *testing.T) {
	tmp := isolateConfigDirs(t)

	c := cfg.Config{}
	c.Database.Type = "sqlite"
	c.Database.Dsn = "./lab.db"
	c.Auth.CronSecret = "s3cret"
	path := filepath.Join(tmp, "out", "labportal.yaml")
	if err := cfg.WriteConfigFileTo(&c, path); err != nil {
		t.Fatalf("WriteConfigFileTo failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected config file at %s: %v", path, err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "dsn: ./lab.db") {
		t.Fatalf("unexpected file contents:\n%s", data)
	}

	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, cfg.Defaults(), &path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Auth.CronSecret != "s3cret" {
		t.Fatalf("cron secret lost in round trip: %q", got.Auth.CronSecret)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	base := cfg.Config{}
	base.Database.Type = "sqlite"
	base.Database.Dsn = "x.db"
	base.Pruner.RetentionDays = 90
	base.Pruner.BatchSize = 1000
	base.Dispatcher.MaxPull = 10

	cases := map[string]func(c *cfg.Config){
		"db type":       func(c *cfg.Config) { c.Database.Type = "oracle" },
		"dsn":           func(c *cfg.Config) { c.Database.Dsn = "" },
		"retention":     func(c *cfg.Config) { c.Pruner.RetentionDays = 0 },
		"retention cap": func(c *cfg.Config) { c.Pruner.RetentionDays = 200000 },
		"batch":         func(c *cfg.Config) { c.Pruner.BatchSize = 0 },
		"max pull":      func(c *cfg.Config) { c.Dispatcher.MaxPull = 0 },
		"reclaim":       func(c *cfg.Config) { c.Dispatcher.ReclaimAfter = -time.Second },
	}
	for name, mutate := range cases {
		c := base
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}
}

func TestWriteConfigFile_DefaultsToUserPath(t *testing.T) {
	isolateConfigDirs(t)

	c, err := cfg.DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig: %v", err)
	}
	if c.Server.RequestTimeout != 30*time.Second || c.Pruner.RetentionDays != 90 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if err := cfg.WriteConfigFile(&c, false); err != nil {
		t.Fatalf("WriteConfigFile: %v", err)
	}

	path, err := cfg.GetConfigPath(false)
	if err != nil {
		t.Fatalf("GetConfigPath: %v", err)
	}
	got, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, map[string]any{}, &path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Server.RequestTimeout != 30*time.Second || got.Pruner.Schedule != "0 3 * * *" || got.Database.Type != "sqlite" {
		t.Fatalf("reloaded config differs from defaults: %+v", got)
	}
}

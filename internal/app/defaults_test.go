package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("LUKS_KEEPER_CONFIG", "/custom/config.yaml")
		t.Setenv("LUKS_KEEPER_HOME", "/custom/keeper")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.yaml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.yaml")
		}
		if defaults["base_dir"] != "/custom/keeper" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/keeper")
		}
		if defaults["log_dir"] != "/custom/keeper/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/keeper/log")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("LUKS_KEEPER_CONFIG", "")
		t.Setenv("LUKS_KEEPER_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "luks-keeper.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "luks-keeper")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}

		wantLog := filepath.Join(wantBase, "log")
		if defaults["log_dir"] != wantLog {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], wantLog)
		}
	})
}

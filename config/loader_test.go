package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnsureUserConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	loader := NewLoader(nil)
	if err := loader.EnsureUserConfig(); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	path := filepath.Join(home, UserConfigDir, UserConfigFile)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load created config: %v", err)
	}
	if cfg.Engine.AgentCapacity != DefaultConfig().Engine.AgentCapacity {
		t.Errorf("agent capacity = %d", cfg.Engine.AgentCapacity)
	}

	// A second call must not overwrite an existing config.
	edited := "engine:\n  agent_capacity: 7\n"
	if err := os.WriteFile(path, []byte(edited), 0o644); err != nil {
		t.Fatalf("edit config: %v", err)
	}
	if err := loader.EnsureUserConfig(); err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(data), "agent_capacity: 7") {
		t.Errorf("existing config overwritten:\n%s", data)
	}
}

func TestLoaderLayersUserConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	// t.Chdir requires Go 1.24; replicate it on the local toolchain.
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(oldWD); err != nil {
			t.Fatalf("restore wd: %v", err)
		}
	})

	userPath := filepath.Join(home, UserConfigDir, UserConfigFile)
	user := DefaultConfig()
	user.Engine.AgentCapacity = 4
	if err := user.SaveToFile(userPath); err != nil {
		t.Fatalf("save user config: %v", err)
	}

	cfg, err := NewLoader(nil).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.AgentCapacity != 4 {
		t.Errorf("agent capacity = %d, want user override", cfg.Engine.AgentCapacity)
	}
}

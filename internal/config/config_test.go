package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.BindAddress != "0.0.0.0:7350" {
		t.Fatalf("BindAddress = %q", cfg.Server.BindAddress)
	}
	if cfg.Network.OutQueueSize != 256 || cfg.Network.WriteTimeout != 10*time.Second {
		t.Fatalf("network defaults = %+v", cfg.Network)
	}
	if cfg.Lands.Manifest != "lands/lands.yaml" {
		t.Fatalf("Manifest = %q", cfg.Lands.Manifest)
	}
	if cfg.Database.Enabled {
		t.Fatal("database enabled by default")
	}
	if cfg.Database.SnapshotEveryTicks != 100 {
		t.Fatalf("SnapshotEveryTicks = %d", cfg.Database.SnapshotEveryTicks)
	}
	if cfg.Replay.RecordOps {
		t.Fatal("op recording enabled by default")
	}
	if cfg.Admin.KeyHash != "" {
		t.Fatal("admin enabled by default")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Fatalf("logging defaults = %+v", cfg.Logging)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[server]
name = "statetree-eu1"
bind_address = "127.0.0.1:9000"

[network]
out_queue_size = 32
shutdown_grace = "250ms"

[lands]
manifest = "conf/worlds.yaml"

[replay]
record_ops = true
records_dir = "/var/lib/statetree/records"

[database]
enabled = true
dsn = "postgres://app@db:5432/app"
snapshot_every_ticks = 25

[logging]
format = "json"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Name != "statetree-eu1" || cfg.Server.BindAddress != "127.0.0.1:9000" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Network.OutQueueSize != 32 {
		t.Fatalf("OutQueueSize = %d", cfg.Network.OutQueueSize)
	}
	if cfg.Network.ShutdownGrace != 250*time.Millisecond {
		t.Fatalf("ShutdownGrace = %v", cfg.Network.ShutdownGrace)
	}
	// untouched sections keep their defaults
	if cfg.Network.WriteTimeout != 10*time.Second {
		t.Fatalf("WriteTimeout = %v, want default", cfg.Network.WriteTimeout)
	}
	if cfg.Lands.Manifest != "conf/worlds.yaml" {
		t.Fatalf("Manifest = %q", cfg.Lands.Manifest)
	}
	if !cfg.Replay.RecordOps || cfg.Replay.RecordsDir != "/var/lib/statetree/records" {
		t.Fatalf("replay = %+v", cfg.Replay)
	}
	if !cfg.Database.Enabled || cfg.Database.DSN != "postgres://app@db:5432/app" || cfg.Database.SnapshotEveryTicks != 25 {
		t.Fatalf("database = %+v", cfg.Database)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "info" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("Load() accepted a missing file")
	}
}

func TestLoadBadSyntax(t *testing.T) {
	if _, err := Load(writeConfig(t, "[server\nname=")); err == nil {
		t.Fatal("Load() accepted malformed TOML")
	}
}

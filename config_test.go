package apteryx

import "testing"

func TestConfigValidateDefaults(t *testing.T) {
	var cfg Config
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Socket != DefaultSocket {
		t.Fatalf("expected socket default %q, got %q", DefaultSocket, cfg.Socket)
	}
	if cfg.ClientSocketDir != DefaultClientSocketDir {
		t.Fatalf("expected client socket dir default %q, got %q", DefaultClientSocketDir, cfg.ClientSocketDir)
	}
	if cfg.Codec != DefaultCodec {
		t.Fatalf("expected codec default %q, got %q", DefaultCodec, cfg.Codec)
	}
	if cfg.RPCTimeout != DefaultRPCTimeout {
		t.Fatalf("expected rpc timeout default %v, got %v", DefaultRPCTimeout, cfg.RPCTimeout)
	}
	if cfg.Workers != DefaultWorkers {
		t.Fatalf("expected workers default %d, got %d", DefaultWorkers, cfg.Workers)
	}
}

func TestConfigValidateLeavesExplicitValuesAlone(t *testing.T) {
	cfg := Config{
		Socket:          "/tmp/custom.sock",
		ClientSocketDir: "/tmp/clients",
		Codec:           CodecGob,
		RPCTimeout:      9,
		Workers:         17,
	}
	want := cfg
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg != want {
		t.Fatalf("Validate changed an explicitly set field: got %+v, want %+v", cfg, want)
	}
}

func TestConfigValidateUnknownCodec(t *testing.T) {
	cfg := Config{Codec: "yaml"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown codec")
	}
}

func TestConfigValidateRuntimeMetricsRequiresMetricsListen(t *testing.T) {
	cfg := Config{RuntimeMetrics: true}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for runtime metrics without metrics-listen")
	}

	cfg = Config{RuntimeMetrics: true, MetricsListen: ":9342"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected runtime metrics with metrics-listen to pass, got %v", err)
	}
}

func TestConfigValidateNonPositiveDurationsFallBackToDefaults(t *testing.T) {
	cfg := Config{RPCTimeout: -1, Workers: 0}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.RPCTimeout != DefaultRPCTimeout {
		t.Fatalf("expected rpc timeout to fall back to default, got %v", cfg.RPCTimeout)
	}
	if cfg.Workers != DefaultWorkers {
		t.Fatalf("expected workers to fall back to default, got %d", cfg.Workers)
	}
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	t.Setenv("APTERYX_SOCKET", "/tmp/env.sock")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Socket != "/tmp/env.sock" {
		t.Fatalf("expected socket from env, got %q", cfg.Socket)
	}
}

func TestLoadMissingFileIsNotFatal(t *testing.T) {
	cfg, err := Load("/does/not/exist.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Socket != DefaultSocket {
		t.Fatalf("expected default socket when config file is absent, got %q", cfg.Socket)
	}
}

func TestDefaultConfigDirHonorsOverrideEnv(t *testing.T) {
	t.Setenv("APTERYX_CONFIG_DIR", "/tmp/apteryx-config-override")
	dir, err := DefaultConfigDir()
	if err != nil {
		t.Fatalf("DefaultConfigDir: %v", err)
	}
	if dir != "/tmp/apteryx-config-override" {
		t.Fatalf("DefaultConfigDir = %q, want override honored", dir)
	}
}

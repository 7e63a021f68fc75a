package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing test config file: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsWhenFileIsMinimal(t *testing.T) {
	path := writeConfigFile(t, "client_id: abc123\n")

	opts, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.PingInterval != 30*time.Second {
		t.Errorf("got ping_interval %v, want the 30s default", opts.PingInterval)
	}
	if opts.VolumeSteps != 64 {
		t.Errorf("got volume_steps %d, want the 64 default", opts.VolumeSteps)
	}
	if opts.ClientID != "abc123" {
		t.Errorf("got client_id %q, want abc123", opts.ClientID)
	}
}

func TestLoadFileValuesOverrideDefaults(t *testing.T) {
	path := writeConfigFile(t, "ping_interval: 45s\ninitial_volume: 10000\n")

	opts, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.PingInterval != 45*time.Second {
		t.Errorf("got ping_interval %v, want 45s", opts.PingInterval)
	}
	if opts.InitialVolume != 10000 {
		t.Errorf("got initial_volume %d, want 10000", opts.InitialVolume)
	}
}

func TestLoadEnvVarOverridesFileValue(t *testing.T) {
	path := writeConfigFile(t, "device_type: Speaker\n")
	t.Setenv("SPOTCONNECT_DEVICE_TYPE", "Computer")

	opts, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.DeviceType != "Computer" {
		t.Errorf("got device_type %q, want env override Computer", opts.DeviceType)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	opts, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("expected a missing config file to fall back to defaults, got error: %v", err)
	}
	if opts.LogLevel != "info" {
		t.Errorf("got log_level %q, want the info default", opts.LogLevel)
	}
}

func TestLoadDefaultsDeviceNameToHostname(t *testing.T) {
	path := writeConfigFile(t, "client_id: x\n")

	opts, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hostname, _ := os.Hostname()
	if opts.DeviceName != hostname {
		t.Errorf("got device_name %q, want hostname %q", opts.DeviceName, hostname)
	}
}

func TestValidateRejectsNonPositiveQueueCapacity(t *testing.T) {
	o := &Options{CommandQueueCapacity: 0, VolumeSteps: 1}
	if err := o.Validate(); err == nil {
		t.Error("expected an error for a zero command_queue_capacity")
	}
}

func TestValidateRejectsOutOfRangeVolume(t *testing.T) {
	o := &Options{CommandQueueCapacity: 1, VolumeSteps: 1, InitialVolume: 70000}
	if err := o.Validate(); err == nil {
		t.Error("expected an error for an out-of-range initial_volume")
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	o := &Options{CommandQueueCapacity: 100, VolumeSteps: 64, InitialVolume: 32767}
	if err := o.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

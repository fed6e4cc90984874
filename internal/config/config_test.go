package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("engine:\n  rule_capacity: 32\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	// When no config exists anywhere, should error. Override
	// searchPathsFunc to avoid finding real config files on
	// developer/deploy machines.
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "config.yaml")}
	}
	defer func() { searchPathsFunc = orig }()

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("engine:\n  rule_capacity: 20\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("mqtt_tap:\n  enabled: true\n  broker_url: ${HCIPROTO_TEST_BROKER}\n  topic: hci/rx\n"), 0600)
	os.Setenv("HCIPROTO_TEST_BROKER", "mqtts://broker.local:8883")
	defer os.Unsetenv("HCIPROTO_TEST_BROKER")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.MQTTTap.BrokerURL != "mqtts://broker.local:8883" {
		t.Errorf("broker_url = %q, want %q", cfg.MQTTTap.BrokerURL, "mqtts://broker.local:8883")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("log_level: debug\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Engine.RuleCapacity != 20 {
		t.Errorf("engine.rule_capacity = %d, want default 20", cfg.Engine.RuleCapacity)
	}
	if cfg.Transport.Kind != "hci" {
		t.Errorf("transport.kind = %q, want default %q", cfg.Transport.Kind, "hci")
	}
	if cfg.AddrBook.Capacity != 64 {
		t.Errorf("addrbook.capacity = %d, want default 64", cfg.AddrBook.Capacity)
	}
}

func TestValidate_RuleCapacityTooLow(t *testing.T) {
	cfg := Default()
	cfg.Engine.RuleCapacity = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for rule_capacity below 1")
	}
	if !strings.Contains(err.Error(), "rule_capacity") {
		t.Errorf("error should mention rule_capacity, got: %v", err)
	}
}

func TestValidate_TransportKindInvalid(t *testing.T) {
	cfg := Default()
	cfg.Transport.Kind = "serial"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for unknown transport.kind")
	}
	if !strings.Contains(err.Error(), "transport.kind") {
		t.Errorf("error should mention transport.kind, got: %v", err)
	}
}

func TestValidate_MQTTTapEnabledMissingBrokerURL(t *testing.T) {
	cfg := Default()
	cfg.MQTTTap = MQTTTapConfig{Enabled: true, Topic: "hci/rx"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for missing broker_url")
	}
	if !strings.Contains(err.Error(), "mqtt_tap.broker_url") {
		t.Errorf("error should mention mqtt_tap.broker_url, got: %v", err)
	}
}

func TestValidate_MQTTTapEnabledMissingTopic(t *testing.T) {
	cfg := Default()
	cfg.MQTTTap = MQTTTapConfig{Enabled: true, BrokerURL: "mqtts://broker:8883"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for missing topic")
	}
	if !strings.Contains(err.Error(), "mqtt_tap.topic") {
		t.Errorf("error should mention mqtt_tap.topic, got: %v", err)
	}
}

func TestValidate_MQTTTapDisabledSkipsValidation(t *testing.T) {
	cfg := Default()
	cfg.MQTTTap = MQTTTapConfig{Enabled: false}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mqtt_tap should skip validation, got: %v", err)
	}
}

func TestValidate_MQTTTapNegativeRateLimit(t *testing.T) {
	cfg := Default()
	cfg.MQTTTap = MQTTTapConfig{Enabled: true, BrokerURL: "mqtts://broker:8883", Topic: "hci/rx", RateLimitPerMinute: -1}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for negative rate_limit_per_minute")
	}
	if !strings.Contains(err.Error(), "mqtt_tap.rate_limit_per_minute") {
		t.Errorf("error should mention mqtt_tap.rate_limit_per_minute, got: %v", err)
	}
}

func TestMQTTTapConfig_Configured(t *testing.T) {
	tests := []struct {
		name string
		cfg  MQTTTapConfig
		want bool
	}{
		{"all set", MQTTTapConfig{BrokerURL: "mqtts://b:8883", Topic: "hci/rx"}, true},
		{"no broker", MQTTTapConfig{Topic: "hci/rx"}, false},
		{"no topic", MQTTTapConfig{BrokerURL: "mqtts://b:8883"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Configured(); got != tt.want {
				t.Errorf("Configured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate_DebugWSPortOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.DebugWS.Enabled = true
	cfg.DebugWS.Port = 70000

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for debug_ws.port out of range")
	}
	if !strings.Contains(err.Error(), "debug_ws.port") {
		t.Errorf("error should mention debug_ws.port, got: %v", err)
	}
}

func TestApplyDefaults_AttDBPathDerivesFromDataDir(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/hciproto"}
	cfg.applyDefaults()

	want := filepath.Join("/var/lib/hciproto", "attdb.sqlite3")
	if cfg.AttDB.Path != want {
		t.Errorf("attdb.path = %q, want %q", cfg.AttDB.Path, want)
	}
}

package config

import (
	"strconv"
	"testing"

	"github.com/glotlabs/glot/internal/store"
)

// mapBackend is an in-memory ConfigBackend for tests.
type mapBackend struct {
	data map[string]string
}

func newMapBackend() *mapBackend {
	return &mapBackend{data: make(map[string]string)}
}

func (m *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(v)
	return i, true, err
}

func (m *mapBackend) SetString(key, val string) error {
	m.data[key] = val
	return nil
}

func (m *mapBackend) SetInt(key string, val int) error {
	m.data[key] = strconv.Itoa(val)
	return nil
}

func (m *mapBackend) Delete(key string) error {
	delete(m.data, key)
	return nil
}

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newMapBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Backend.BaseURL != "http://127.0.0.1:8000" {
		t.Errorf("Backend.BaseURL = %q, want %q", cfg.Backend.BaseURL, "http://127.0.0.1:8000")
	}
	if cfg.Backend.HealthIntervalSeconds != 10 {
		t.Errorf("Backend.HealthIntervalSeconds = %d, want 10", cfg.Backend.HealthIntervalSeconds)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
}

func TestBackendValuesOverrideDefaults(t *testing.T) {
	b := newMapBackend()
	b.data["backend.base_url"] = "http://agent:9000"
	b.data["backend.health_interval_seconds"] = "30"
	b.data["log.level"] = "debug"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Backend.BaseURL != "http://agent:9000" {
		t.Errorf("Backend.BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.HealthIntervalSeconds != 30 {
		t.Errorf("Backend.HealthIntervalSeconds = %d, want 30", cfg.Backend.HealthIntervalSeconds)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	b := newMapBackend()
	b.data["backend.base_url"] = "http://from-file:9000"

	t.Setenv("GLOT_BACKEND_BASE_URL", "http://from-env:9000")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Backend.BaseURL != "http://from-env:9000" {
		t.Errorf("Backend.BaseURL = %q, want env value", cfg.Backend.BaseURL)
	}
}

func TestInvalidIntEnvKeepsDefault(t *testing.T) {
	t.Setenv("GLOT_BACKEND_HEALTH_INTERVAL_SECONDS", "often")

	cfg, err := loadWith(newMapBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Backend.HealthIntervalSeconds != 10 {
		t.Errorf("Backend.HealthIntervalSeconds = %d, want default 10", cfg.Backend.HealthIntervalSeconds)
	}
}

func TestSetKeyUnknown(t *testing.T) {
	if err := setKeyWith(newMapBackend(), "no.such.key", "x"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestSetAndResetKey(t *testing.T) {
	b := newMapBackend()
	if err := setKeyWith(b, "log.level", "debug"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.data["log.level"] != "debug" {
		t.Errorf("stored value = %q, want %q", b.data["log.level"], "debug")
	}
	if err := resetKeyWith(b, "log.level"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := b.data["log.level"]; ok {
		t.Error("key still present after reset")
	}
}

// fakeKV is an in-memory store.KV for settings tests.
type fakeKV struct {
	data map[string]string
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string)}
}

func (f *fakeKV) Get(key string) (string, error) {
	v, ok := f.data[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (f *fakeKV) Set(key, value string) error {
	f.data[key] = value
	return nil
}

func (f *fakeKV) Delete(key string) error {
	delete(f.data, key)
	return nil
}

func TestSettingsRoundTrip(t *testing.T) {
	kv := newFakeKV()

	if err := SetSetting(kv, "apiKey", "sk-secret-1234"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := SetSetting(kv, "provider", "openai"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := SetSetting(kv, "keepOpen", "true"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s, err := LoadSettings(kv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.APIKey != "sk-secret-1234" {
		t.Errorf("APIKey = %q", s.APIKey)
	}
	if s.Provider != "openai" {
		t.Errorf("Provider = %q", s.Provider)
	}
	if !s.KeepOpen {
		t.Error("KeepOpen = false, want true")
	}
	if s.AllSites {
		t.Error("AllSites = true for unset key, want false")
	}
}

func TestSettingsMissingKeysAreZero(t *testing.T) {
	s, err := LoadSettings(newFakeKV())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != (Settings{}) {
		t.Errorf("settings = %+v, want zero value", s)
	}
}

func TestSetSettingInvalidBool(t *testing.T) {
	if err := SetSetting(newFakeKV(), "keepOpen", "maybe"); err == nil {
		t.Fatal("expected error for invalid boolean")
	}
}

func TestSetSettingUnknownName(t *testing.T) {
	if err := SetSetting(newFakeKV(), "theme", "dark"); err == nil {
		t.Fatal("expected error for unknown setting")
	}
}

func TestResetSetting(t *testing.T) {
	kv := newFakeKV()
	if err := SetSetting(kv, "model", "gpt-4o"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ResetSetting(kv, "model"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := kv.data[store.KeyModel]; ok {
		t.Error("model key still present after reset")
	}
}

func TestSplitDomains(t *testing.T) {
	got := SplitDomains(" example.com, docs.example.com ,,news.example.com")
	want := []string{"example.com", "docs.example.com", "news.example.com"}
	if len(got) != len(want) {
		t.Fatalf("SplitDomains = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("SplitDomains = %v, want %v", got, want)
		}
	}
	if SplitDomains("") != nil {
		t.Error("SplitDomains(\"\") should be nil")
	}
}

func TestShowSettingsMasksAPIKey(t *testing.T) {
	infos := ShowSettings(Settings{APIKey: "sk-secret-1234"})
	for _, info := range infos {
		if info.Key != "apiKey" {
			continue
		}
		if info.Value != "****1234" {
			t.Errorf("masked apiKey = %q, want %q", info.Value, "****1234")
		}
		return
	}
	t.Fatal("apiKey not listed")
}

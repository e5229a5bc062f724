package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/glotlabs/glot/internal/store"
)

// Settings are the per-user agent settings kept in the client state
// store, alongside chat history. Unlike Config they are mutable at
// runtime and survive in the data dir, not the config file.
type Settings struct {
	APIKey         string
	Provider       string
	Model          string
	AllowedDomains string
	KeepOpen       bool
	AllSites       bool
}

type settingSpec struct {
	name    string
	key     string
	boolean bool
	apply   func(s *Settings, v string)
	extract func(s Settings) string
}

var settingSpecs = []settingSpec{
	{
		name: "apiKey", key: store.KeyAPIKey,
		apply:   func(s *Settings, v string) { s.APIKey = v },
		extract: func(s Settings) string { return s.APIKey },
	},
	{
		name: "provider", key: store.KeyProvider,
		apply:   func(s *Settings, v string) { s.Provider = v },
		extract: func(s Settings) string { return s.Provider },
	},
	{
		name: "model", key: store.KeyModel,
		apply:   func(s *Settings, v string) { s.Model = v },
		extract: func(s Settings) string { return s.Model },
	},
	{
		name: "allowedDomains", key: store.KeyAllowedDomains,
		apply:   func(s *Settings, v string) { s.AllowedDomains = v },
		extract: func(s Settings) string { return s.AllowedDomains },
	},
	{
		name: "keepOpen", key: store.KeyKeepOpen, boolean: true,
		apply:   func(s *Settings, v string) { s.KeepOpen = parseBoolSetting(v) },
		extract: func(s Settings) string { return strconv.FormatBool(s.KeepOpen) },
	},
	{
		name: "enableAllSites", key: store.KeyAllSites, boolean: true,
		apply:   func(s *Settings, v string) { s.AllSites = parseBoolSetting(v) },
		extract: func(s Settings) string { return strconv.FormatBool(s.AllSites) },
	},
}

// SplitDomains turns the comma-separated allowedDomains setting into a
// clean slice, dropping empty entries.
func SplitDomains(v string) []string {
	var domains []string
	for _, d := range strings.Split(v, ",") {
		if d = strings.TrimSpace(d); d != "" {
			domains = append(domains, d)
		}
	}
	return domains
}

func parseBoolSetting(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// LoadSettings reads all settings from the store. Missing keys keep
// their zero values.
func LoadSettings(kv store.KV) (Settings, error) {
	var s Settings
	for _, spec := range settingSpecs {
		v, err := kv.Get(spec.key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return Settings{}, fmt.Errorf("loading setting %s: %w", spec.name, err)
		}
		spec.apply(&s, v)
	}
	return s, nil
}

// SetSetting writes one setting by its user-facing name.
func SetSetting(kv store.KV, name, value string) error {
	for _, spec := range settingSpecs {
		if spec.name != name {
			continue
		}
		if spec.boolean {
			b, err := strconv.ParseBool(strings.TrimSpace(value))
			if err != nil {
				return fmt.Errorf("invalid boolean value for %s: %w", name, err)
			}
			value = strconv.FormatBool(b)
		}
		return kv.Set(spec.key, value)
	}
	return fmt.Errorf("unknown setting: %q", name)
}

// ResetSetting removes one setting by its user-facing name.
func ResetSetting(kv store.KV, name string) error {
	for _, spec := range settingSpecs {
		if spec.name == name {
			return kv.Delete(spec.key)
		}
	}
	return fmt.Errorf("unknown setting: %q", name)
}

// ShowSettings returns all settings for display. The API key is
// masked down to its last four characters.
func ShowSettings(s Settings) []KeyInfo {
	var result []KeyInfo
	for _, spec := range settingSpecs {
		v := spec.extract(s)
		if spec.name == "apiKey" {
			v = maskSecret(v)
		}
		result = append(result, KeyInfo{Key: spec.name, Value: v})
	}
	return result
}

// ValidSettingNames returns the user-facing setting names.
func ValidSettingNames() []string {
	var names []string
	for _, spec := range settingSpecs {
		names = append(names, spec.name)
	}
	return names
}

func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return strings.Repeat("*", len(v))
	}
	return strings.Repeat("*", 4) + v[len(v)-4:]
}

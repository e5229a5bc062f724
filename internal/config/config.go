package config

type Config struct {
	Backend BackendConfig
	Storage StorageConfig
	Log     LogConfig
}

type BackendConfig struct {
	BaseURL               string
	HealthIntervalSeconds int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:               "http://127.0.0.1:8000",
			HealthIntervalSeconds: 10,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend and
// environment variables.
//
// On macOS the backend is UserDefaults (domain: com.glotlabs.glot).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/glot/config.json.
//
// Environment variables (GLOT_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		DirectLine: DirectLineConfig{
			PollIntervalMs: 2000,
			BotNames:       []string{"Concierge"},
		},
		Source: SourceConfig{
			Mode:               "poll",
			WindowMs:           800,
			MinLength:          5,
			RedeliverAfterMs:   5000,
			FallbackIntervalMs: 1500,
		},
		Widget: WidgetConfig{
			Headless:       true,
			RetryInitialMs: 500,
			RetryMaxMs:     10000,
		},
		Speech: SpeechConfig{
			Enabled:   false,
			SilenceMs: 1200,
			TTS: TTSConfig{
				Provider: "openai",
			},
		},
		Wave: WaveConfig{
			Enabled: false,
			Width:   48,
			Layers:  3,
		},
		Monitor: MonitorConfig{
			Enabled: false,
			Port:    8099,
			Path:    "/ws",
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

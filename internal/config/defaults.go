package config

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider:     ProviderOpenAI,
		Model:        "gpt-4o",
		WorkflowFile: "workflow.yml",
		DataDir:      "data",
		Port:         8080,
		MaxRPM:       60,
		Extraction:   true,
	}
}

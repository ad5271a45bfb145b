package config

// ProviderType identifies an LLM provider.
type ProviderType string

const (
	ProviderOpenAI ProviderType = "openai"
	ProviderOllama ProviderType = "ollama"
)

// Config is the top-level engine configuration, corresponding to
// .intake.yml. The workflow definition (fields, actions, artifacts) lives
// in its own file referenced here; this file only carries engine wiring.
type Config struct {
	Provider     ProviderType `yaml:"provider" koanf:"provider"`
	Model        string       `yaml:"model" koanf:"model"`
	WorkflowFile string       `yaml:"workflow_file" koanf:"workflow_file"`
	DataDir      string       `yaml:"data_dir" koanf:"data_dir"`
	Port         int          `yaml:"port" koanf:"port"`
	MaxRPM       int          `yaml:"max_rpm" koanf:"max_rpm"`
	Extraction   bool         `yaml:"extraction" koanf:"extraction"`
}

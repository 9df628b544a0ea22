package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultWaters      = 64
	DefaultBoxLength   = 1.86
	DefaultDt          = 0.002
	DefaultSteps       = 1000
	DefaultTemperature = 300.0
	DefaultTauT        = 0.1
)

type Config struct {
	Waters      int        `yaml:"waters"`
	Box         [3]float64 `yaml:"box"`
	Dt          float64    `yaml:"dt"`
	Steps       int        `yaml:"steps"`
	Seed        int64      `yaml:"seed"`
	Temperature float64    `yaml:"temperature"`
	TempCouple  bool       `yaml:"temp_couple"`
	TauT        float64    `yaml:"tau_t"`
	Lincs       Lincs      `yaml:"lincs"`
	LJ          LJ         `yaml:"lj"`
}

type Lincs struct {
	Iterations int `yaml:"iterations"`
	Order      int `yaml:"order"`
}

type LJ struct {
	Sigma   float64 `yaml:"sigma"`
	Epsilon float64 `yaml:"epsilon"`
	Cutoff  float64 `yaml:"cutoff"`
}

func DefaultConfig() *Config {
	return &Config{
		Waters:      DefaultWaters,
		Box:         [3]float64{DefaultBoxLength, DefaultBoxLength, DefaultBoxLength},
		Dt:          DefaultDt,
		Steps:       DefaultSteps,
		Temperature: DefaultTemperature,
		TempCouple:  true,
		TauT:        DefaultTauT,
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects configurations the runner cannot start from.
func (c *Config) Validate() error {
	if c.Waters <= 0 {
		return fmt.Errorf("waters must be positive, got %d", c.Waters)
	}
	if c.Dt <= 0 {
		return fmt.Errorf("dt must be positive, got %g", c.Dt)
	}
	if c.Steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", c.Steps)
	}
	for _, l := range c.Box {
		if l <= 0 {
			return fmt.Errorf("box lengths must be positive, got %v", c.Box)
		}
	}
	if c.TempCouple && c.TauT <= 0 {
		return fmt.Errorf("tau_t must be positive with temperature coupling, got %g", c.TauT)
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ChainFile は生成モデルのフォールバックチェーン定義ファイル
//
//	temperature: 0.4
//	timeout: 45s
//	models:
//	  - gpt-4o-mini
//	  - gpt-4.1-mini
type ChainFile struct {
	Temperature *float64 `yaml:"temperature"`
	Timeout     string   `yaml:"timeout"`
	Models      []string `yaml:"models"`
}

// LoadChainFile はYAMLのチェーン定義を読み込みます
func LoadChainFile(path string) (*ChainFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read generation chain file: %w", err)
	}

	var chain ChainFile
	if err := yaml.Unmarshal(data, &chain); err != nil {
		return nil, fmt.Errorf("failed to parse generation chain file: %w", err)
	}
	if len(chain.Models) == 0 {
		return nil, fmt.Errorf("generation chain file %s has no models", path)
	}
	if chain.Timeout != "" {
		if _, err := time.ParseDuration(chain.Timeout); err != nil {
			return nil, fmt.Errorf("invalid timeout in generation chain file: %w", err)
		}
	}

	return &chain, nil
}

// Apply はチェーン定義で生成設定を上書きします
func (c *ChainFile) Apply(gen *GenerationConfig) {
	gen.Models = append([]string(nil), c.Models...)
	if c.Temperature != nil {
		gen.Temperature = *c.Temperature
	}
	if c.Timeout != "" {
		if d, err := time.ParseDuration(c.Timeout); err == nil {
			gen.Timeout = d
		}
	}
}

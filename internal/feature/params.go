package feature

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NumericalParam holds the min-max scaling range for one numerical feature,
// fitted at training time.
type NumericalParam struct {
	Name string  `yaml:"name"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
}

// CategoricalParam holds the label-encoding table for one categorical
// feature. Labels unseen at training time encode to 0, matching the
// encoder the models were trained against.
type CategoricalParam struct {
	Name   string         `yaml:"name"`
	Labels map[string]int `yaml:"labels"`
}

// NormParams are the normalization parameters loaded read-only at startup.
// Feature order is numerical params first, categorical params second; that
// order defines the vector layout both models were trained on.
type NormParams struct {
	Numerical   []NumericalParam   `yaml:"numerical"`
	Categorical []CategoricalParam `yaml:"categorical"`
}

// Dim returns the feature vector length these parameters produce.
func (p *NormParams) Dim() int {
	return len(p.Numerical) + len(p.Categorical)
}

// FeatureNames returns the ordered human-readable feature names.
func (p *NormParams) FeatureNames() []string {
	names := make([]string, 0, p.Dim())
	for _, n := range p.Numerical {
		names = append(names, n.Name)
	}
	for _, c := range p.Categorical {
		names = append(names, c.Name)
	}
	return names
}

// LoadNormParams reads normalization parameters from a YAML artifact.
func LoadNormParams(path string) (*NormParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read norm params %s: %w", path, err)
	}

	var p NormParams
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse norm params %s: %w", path, err)
	}

	if len(p.Numerical) == 0 {
		return nil, fmt.Errorf("norm params %s: no numerical features", path)
	}
	for _, n := range p.Numerical {
		if n.Max < n.Min {
			return nil, fmt.Errorf("norm params %s: feature %q has max < min", path, n.Name)
		}
	}
	return &p, nil
}

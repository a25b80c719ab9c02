package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelConfig is the pricing and access entry for one model.
type ModelConfig struct {
	Multiplier   float64         `json:"multiplier"`
	Restrictions map[string]bool `json:"restrictions"`
}

type modelConfigFile struct {
	Multiplier   *float64        `yaml:"multiplier" json:"multiplier"`
	Restrictions map[string]bool `yaml:"restrictions" json:"restrictions"`
}

// Catalog is the immutable per-model configuration table.
type Catalog struct {
	models map[string]ModelConfig
}

// NewCatalog copies entries into a catalog. A zero multiplier is kept as is.
func NewCatalog(entries map[string]ModelConfig) *Catalog {
	c := &Catalog{models: make(map[string]ModelConfig, len(entries))}
	for id, e := range entries {
		restrictions := make(map[string]bool, len(e.Restrictions))
		for plan, ok := range e.Restrictions {
			restrictions[plan] = ok
		}
		c.models[id] = ModelConfig{Multiplier: e.Multiplier, Restrictions: restrictions}
	}
	return c
}

// LoadCatalog reads the model table from a YAML or JSON file. An empty path
// yields an empty catalog where every model is unrestricted.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(nil), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model config: %w", err)
	}

	raw := make(map[string]modelConfigFile)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &raw)
	} else {
		err = yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("parse model config %s: %w", path, err)
	}

	entries := make(map[string]ModelConfig, len(raw))
	for id, e := range raw {
		mult := 1.0
		if e.Multiplier != nil {
			mult = *e.Multiplier
		}
		if mult < 0 {
			return nil, fmt.Errorf("model config %s: negative multiplier for %q", path, id)
		}
		entries[id] = ModelConfig{Multiplier: mult, Restrictions: e.Restrictions}
	}
	return NewCatalog(entries), nil
}

// Lookup returns the entry for model, if configured.
func (c *Catalog) Lookup(model string) (ModelConfig, bool) {
	e, ok := c.models[model]
	return e, ok
}

// Multiplier returns the usage cost factor of model; unlisted models cost 1.
func (c *Catalog) Multiplier(model string) float64 {
	if e, ok := c.Lookup(model); ok {
		return e.Multiplier
	}
	return 1
}

// Allowed reports whether plan may use model. Unlisted models are open to
// every plan; listed models require an explicit true for the plan.
func (c *Catalog) Allowed(plan, model string) bool {
	e, ok := c.Lookup(model)
	if !ok {
		return true
	}
	return e.Restrictions[plan]
}

// Restrictions returns the restriction map advertised for model in the
// catalog listing.
func (c *Catalog) Restrictions(model string) map[string]bool {
	if e, ok := c.Lookup(model); ok && e.Restrictions != nil {
		return e.Restrictions
	}
	return map[string]bool{
		PlanFree:       true,
		PlanPremium:    true,
		PlanEnterprise: true,
	}
}

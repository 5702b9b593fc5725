package provider

import (
	"fmt"
	"strings"
)

// ModelRef names a model as "provider/model", e.g. "openai/gpt-4o-mini".
// A bare model name has no provider and is resolved against the default.
type ModelRef string

func NewModelRef(providerID, modelID string) ModelRef {
	return ModelRef(providerID + "/" + modelID)
}

func (r ModelRef) Provider() string {
	p, _, ok := strings.Cut(string(r), "/")
	if !ok {
		return ""
	}
	return p
}

func (r ModelRef) Model() string {
	_, m, ok := strings.Cut(string(r), "/")
	if !ok {
		return string(r)
	}
	return m
}

func (r ModelRef) String() string {
	return string(r)
}

func (r ModelRef) Valid() bool {
	return r.Provider() != "" && r.Model() != ""
}

// WithDefaultProvider qualifies a bare model name.
func (r ModelRef) WithDefaultProvider(providerID string) ModelRef {
	if r.Provider() != "" || r == "" {
		return r
	}
	return NewModelRef(providerID, string(r))
}

func ParseModelRef(s string) (ModelRef, error) {
	ref := ModelRef(strings.TrimSpace(s))
	if !ref.Valid() {
		return "", fmt.Errorf("invalid model ref %q: expected format provider/model", s)
	}
	return ref, nil
}

type Feature string

// FeatureTools marks a model that accepts tool declarations.
const FeatureTools Feature = "tools"

// ModelInfo describes a model a provider offers. Declaring models is
// optional; they are listed by the actions command, and a declared
// completion model must carry FeatureTools.
type ModelInfo struct {
	ID            string    `json:"id" yaml:"id"`
	Name          string    `json:"name,omitempty" yaml:"name"`
	ProviderID    string    `json:"provider_id" yaml:"provider_id"`
	ContextWindow int       `json:"context_window,omitempty" yaml:"context_window"`
	MaxTokens     int       `json:"max_tokens,omitempty" yaml:"max_tokens"`
	Features      []Feature `json:"features,omitempty" yaml:"features"`
}

func (m ModelInfo) Ref() ModelRef {
	return NewModelRef(m.ProviderID, m.ID)
}

func (m ModelInfo) SupportsFeature(f Feature) bool {
	for _, feat := range m.Features {
		if feat == f {
			return true
		}
	}
	return false
}

// RequireFeature fails when p declares model without f. Models the
// provider does not declare are not checked.
func RequireFeature(p Provider, model string, f Feature) error {
	info, ok := FindModel(p.Models(), model)
	if !ok || info.SupportsFeature(f) {
		return nil
	}
	return fmt.Errorf("model %s is declared without the %q feature", info.Ref(), f)
}

// FindModel returns the declared model with the given id.
func FindModel(models []ModelInfo, id string) (ModelInfo, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}

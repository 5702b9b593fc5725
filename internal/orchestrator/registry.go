package orchestrator

import (
	"fmt"

	"github.com/Sumaya3011/gee-openai-chatbot/internal/provider"
)

// ActionRegistry is the fixed, read-only set of actions the model may call.
// It is safe for concurrent use because nothing mutates it after
// construction.
type ActionRegistry struct {
	schemas []ActionSchema
	byName  map[string]int
}

// NewActionRegistry validates and freezes the given schemas. Declaration
// order is kept.
func NewActionRegistry(schemas ...ActionSchema) (*ActionRegistry, error) {
	r := &ActionRegistry{
		schemas: make([]ActionSchema, 0, len(schemas)),
		byName:  make(map[string]int, len(schemas)),
	}
	for _, s := range schemas {
		if err := validateSchema(s); err != nil {
			return nil, err
		}
		if _, exists := r.byName[s.Name]; exists {
			return nil, fmt.Errorf("action %q already registered", s.Name)
		}
		r.byName[s.Name] = len(r.schemas)
		r.schemas = append(r.schemas, s.clone())
	}
	return r, nil
}

func validateSchema(s ActionSchema) error {
	if s.Name == "" {
		return fmt.Errorf("action with empty name")
	}
	if s.Name == ActionUnknown || s.Name == ActionMalformed {
		return fmt.Errorf("action name %q is reserved", s.Name)
	}
	seen := make(map[string]bool, len(s.Parameters))
	for _, p := range s.Parameters {
		switch {
		case p.Name == "":
			return fmt.Errorf("action %q: parameter with empty name", s.Name)
		case p.Name == "type":
			return fmt.Errorf("action %q: parameter name %q is reserved", s.Name, p.Name)
		case seen[p.Name]:
			return fmt.Errorf("action %q: duplicate parameter %q", s.Name, p.Name)
		case !p.Type.Valid():
			return fmt.Errorf("action %q: parameter %q has unknown type %q", s.Name, p.Name, p.Type)
		}
		seen[p.Name] = true
	}
	return nil
}

// ListSchemas returns a copy of every schema in declaration order.
func (r *ActionRegistry) ListSchemas() []ActionSchema {
	out := make([]ActionSchema, len(r.schemas))
	for i, s := range r.schemas {
		out[i] = s.clone()
	}
	return out
}

func (r *ActionRegistry) GetSchema(name string) (ActionSchema, bool) {
	i, ok := r.byName[name]
	if !ok {
		return ActionSchema{}, false
	}
	return r.schemas[i].clone(), true
}

func (r *ActionRegistry) Len() int { return len(r.schemas) }

// ToolSpecs renders every schema as a callable tool declaration.
func (r *ActionRegistry) ToolSpecs() []provider.ToolSpec {
	specs := make([]provider.ToolSpec, len(r.schemas))
	for i, s := range r.schemas {
		specs[i] = provider.ToolSpec{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.JSONSchema(),
		}
	}
	return specs
}

// DefaultActionSchemas is the built-in Earth Engine vocabulary.
func DefaultActionSchemas() []ActionSchema {
	yearRange := func() []Parameter {
		return []Parameter{
			{Name: "yearA", Description: "First year of the range", Type: KindInteger, Required: true},
			{Name: "yearB", Description: "Last year of the range", Type: KindInteger, Required: true},
		}
	}
	return []ActionSchema{
		{
			Name:        "set_years",
			Description: "Set start and end years for analysis",
			Parameters:  yearRange(),
		},
		{
			Name:        "export_timelapse",
			Description: "Export a timelapse video",
			Parameters:  yearRange(),
		},
		{
			Name:        "showNDVI",
			Description: "Show NDVI for an area and date range",
			Parameters: []Parameter{
				{Name: "area", Description: "Place name or region", Type: KindString, Required: true},
				{Name: "startDate", Description: "Start date, YYYY-MM-DD", Type: KindString, Required: true},
				{Name: "endDate", Description: "End date, YYYY-MM-DD", Type: KindString, Required: true},
			},
		},
	}
}

// NewDefaultActionRegistry builds the registry for DefaultActionSchemas.
func NewDefaultActionRegistry() *ActionRegistry {
	r, err := NewActionRegistry(DefaultActionSchemas()...)
	if err != nil {
		panic(fmt.Sprintf("orchestrator: default action schemas: %v", err))
	}
	return r
}

package orchestrator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/Sumaya3011/gee-openai-chatbot/internal/provider"
)

// Normalizer turns model tool invocations into Actions. It depends only on
// its input and the registry, so normalizing the same invocations twice
// yields equal results.
type Normalizer struct {
	registry *ActionRegistry
	guard    *Guard
}

func NewNormalizer(registry *ActionRegistry, guard *Guard) *Normalizer {
	if guard == nil {
		guard = NewGuard()
	}
	return &Normalizer{registry: registry, guard: guard}
}

// Normalize returns one Action per invocation, in order. It never fails:
// problems with a single invocation become unknown or malformed actions.
func (n *Normalizer) Normalize(invocations []provider.ToolInvocation) []Action {
	actions := make([]Action, len(invocations))
	for i, inv := range invocations {
		actions[i] = n.normalizeOne(inv)
	}
	return actions
}

func (n *Normalizer) normalizeOne(inv provider.ToolInvocation) Action {
	schema, ok := n.registry.GetSchema(inv.Name)
	if !ok {
		return UnknownAction(inv.Name)
	}

	args, err := parseArguments(inv.RawArguments)
	if err != nil {
		return MalformedAction(inv.Name, n.guard.SanitizeRaw(inv.RawArguments), err.Error(), nil)
	}

	fields := make(map[string]any, len(schema.Parameters))
	var problems []string
	for _, p := range schema.Parameters {
		v, present := args[p.Name]
		if !present {
			if p.Required {
				problems = append(problems, fmt.Sprintf("missing required field %q", p.Name))
			}
			continue
		}
		coerced, err := coerce(p.Type, v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("field %q: %v", p.Name, err))
			continue
		}
		fields[p.Name] = coerced
	}

	if len(problems) > 0 {
		return MalformedAction(inv.Name, n.guard.SanitizeRaw(inv.RawArguments), strings.Join(problems, "; "), fields)
	}
	return ValidAction(inv.Name, fields)
}

// parseArguments decodes the argument text into a JSON object. Empty text
// means no arguments; a JSON string holding an object is unwrapped once.
func parseArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	v, err := decodeStrict(raw)
	if err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if s, ok := v.(string); ok {
		inner := strings.TrimSpace(s)
		if v, err = decodeStrict(inner); err != nil {
			return nil, fmt.Errorf("arguments are not a JSON object")
		}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("arguments are not a JSON object")
	}
	return obj, nil
}

func decodeStrict(s string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

func coerce(kind ParamKind, v any) (any, error) {
	switch kind {
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindNumber:
		if n, ok := v.(json.Number); ok {
			f, err := n.Float64()
			if err == nil && !math.IsInf(f, 0) {
				return f, nil
			}
		}
	case KindInteger:
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
			f, err := n.Float64()
			if err == nil && f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
				return int64(f), nil
			}
		}
	}
	return nil, fmt.Errorf("expected %s, got %s", kind, describe(v))
}

func describe(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number " + x.String()
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

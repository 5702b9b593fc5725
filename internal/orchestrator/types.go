package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// ParamKind is the primitive type of an action parameter.
type ParamKind string

const (
	KindString  ParamKind = "string"
	KindInteger ParamKind = "integer"
	KindNumber  ParamKind = "number"
	KindBoolean ParamKind = "boolean"
)

func (k ParamKind) Valid() bool {
	switch k {
	case KindString, KindInteger, KindNumber, KindBoolean:
		return true
	}
	return false
}

type Parameter struct {
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description" json:"description,omitempty"`
	Type        ParamKind `yaml:"type" json:"type"`
	Required    bool      `yaml:"required" json:"required"`
}

// ActionSchema declares one action the model may invoke.
type ActionSchema struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description" json:"description"`
	Parameters  []Parameter `yaml:"parameters,omitempty" json:"parameters"`
}

func (s ActionSchema) Parameter(name string) (Parameter, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// JSONSchema renders the parameter list as a JSON Schema object.
func (s ActionSchema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Parameters))
	required := make([]string, 0, len(s.Parameters))
	for _, p := range s.Parameters {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (s ActionSchema) clone() ActionSchema {
	out := s
	out.Parameters = append([]Parameter(nil), s.Parameters...)
	return out
}

// Reserved action types that never name a declared schema.
const (
	ActionUnknown   = "unknown"
	ActionMalformed = "malformed"
)

// Action is the normalized form of one tool invocation. Exactly one of three
// shapes is populated:
//   - valid: Type is the action name and Fields holds the declared fields.
//   - unknown: Type is ActionUnknown and OriginalName is the requested name.
//   - malformed: Type is ActionMalformed; Name, RawText and Reason describe
//     the failure and Fields holds whatever declared fields did validate.
//
// Integer fields are int64, number fields float64.
type Action struct {
	Type         string
	Fields       map[string]any
	OriginalName string
	Name         string
	RawText      string
	Reason       string
}

func ValidAction(name string, fields map[string]any) Action {
	if fields == nil {
		fields = map[string]any{}
	}
	return Action{Type: name, Fields: fields}
}

func UnknownAction(name string) Action {
	return Action{Type: ActionUnknown, OriginalName: name}
}

func MalformedAction(name, rawText, reason string, fields map[string]any) Action {
	return Action{Type: ActionMalformed, Name: name, RawText: rawText, Reason: reason, Fields: fields}
}

func (a Action) IsValid() bool {
	return a.Type != ActionUnknown && a.Type != ActionMalformed && a.Type != ""
}

// MarshalJSON flattens valid actions so the front end sees
// {"type":"set_years","yearA":2010,"yearB":2020}.
func (a Action) MarshalJSON() ([]byte, error) {
	switch a.Type {
	case ActionUnknown:
		return json.Marshal(struct {
			Type         string `json:"type"`
			OriginalName string `json:"originalName"`
		}{a.Type, a.OriginalName})
	case ActionMalformed:
		var fields map[string]any
		if len(a.Fields) > 0 {
			fields = a.Fields
		}
		return json.Marshal(struct {
			Type    string         `json:"type"`
			Name    string         `json:"name"`
			RawText string         `json:"rawText"`
			Reason  string         `json:"reason"`
			Fields  map[string]any `json:"fields,omitempty"`
		}{a.Type, a.Name, a.RawText, a.Reason, fields})
	case "":
		return nil, fmt.Errorf("action has no type")
	}

	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		if k == "type" {
			return nil, fmt.Errorf("action %q: field name %q is reserved", a.Type, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	t, err := json.Marshal(a.Type)
	if err != nil {
		return nil, err
	}
	buf.Write(t)
	for _, k := range keys {
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(a.Fields[k])
		if err != nil {
			return nil, fmt.Errorf("action %q field %q: %w", a.Type, k, err)
		}
		buf.WriteByte(',')
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (a *Action) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	typ, _ := raw["type"].(string)
	if typ == "" {
		return fmt.Errorf("action has no type")
	}
	*a = Action{Type: typ}
	switch typ {
	case ActionUnknown:
		a.OriginalName, _ = raw["originalName"].(string)
	case ActionMalformed:
		a.Name, _ = raw["name"].(string)
		a.RawText, _ = raw["rawText"].(string)
		a.Reason, _ = raw["reason"].(string)
		if f, ok := raw["fields"].(map[string]any); ok {
			a.Fields = decodeNumbers(f)
		}
	default:
		delete(raw, "type")
		a.Fields = decodeNumbers(raw)
	}
	return nil
}

// decodeNumbers replaces json.Number values with int64 when integral and
// float64 otherwise.
func decodeNumbers(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				out[k] = i
				continue
			}
			if f, err := n.Float64(); err == nil && !math.IsInf(f, 0) {
				out[k] = f
				continue
			}
		}
		out[k] = v
	}
	return out
}

// ChatReply is the outcome of one chat request. Actions is never nil.
type ChatReply struct {
	Reply   string   `json:"reply"`
	Actions []Action `json:"actions"`
}

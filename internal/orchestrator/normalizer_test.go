package orchestrator

import (
	"reflect"
	"strings"
	"testing"

	"github.com/Sumaya3011/gee-openai-chatbot/internal/provider"
)

func inv(name, args string) provider.ToolInvocation {
	return provider.ToolInvocation{CallID: "call_" + name, Name: name, RawArguments: args}
}

func TestNormalizeValid(t *testing.T) {
	n := NewNormalizer(NewDefaultActionRegistry(), nil)

	tests := []struct {
		name string
		in   provider.ToolInvocation
		want Action
	}{
		{
			"set_years",
			inv("set_years", `{"yearA":2010,"yearB":2020}`),
			ValidAction("set_years", map[string]any{"yearA": int64(2010), "yearB": int64(2020)}),
		},
		{
			"integral float accepted",
			inv("export_timelapse", `{"yearA":2015.0,"yearB":2021}`),
			ValidAction("export_timelapse", map[string]any{"yearA": int64(2015), "yearB": int64(2021)}),
		},
		{
			"extra fields dropped",
			inv("showNDVI", `{"area":"Dubai","startDate":"2020-01-01","endDate":"2020-12-31","cloud":5}`),
			ValidAction("showNDVI", map[string]any{"area": "Dubai", "startDate": "2020-01-01", "endDate": "2020-12-31"}),
		},
		{
			"double encoded",
			inv("set_years", `"{\"yearA\":2001,\"yearB\":2002}"`),
			ValidAction("set_years", map[string]any{"yearA": int64(2001), "yearB": int64(2002)}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize([]provider.ToolInvocation{tt.in})
			if len(got) != 1 {
				t.Fatalf("len = %d", len(got))
			}
			if !reflect.DeepEqual(got[0], tt.want) {
				t.Errorf("got %+v, want %+v", got[0], tt.want)
			}
		})
	}
}

func TestNormalizeUnknown(t *testing.T) {
	n := NewNormalizer(NewDefaultActionRegistry(), nil)
	got := n.Normalize([]provider.ToolInvocation{inv("delete_everything", `{}`)})
	want := UnknownAction("delete_everything")
	if !reflect.DeepEqual(got[0], want) {
		t.Errorf("got %+v, want %+v", got[0], want)
	}
}

func TestNormalizeMalformed(t *testing.T) {
	n := NewNormalizer(NewDefaultActionRegistry(), nil)

	tests := []struct {
		name       string
		in         provider.ToolInvocation
		reason     string
		wantFields map[string]any
	}{
		{"invalid json", inv("set_years", `{"yearA":2010,`), "not valid JSON", nil},
		{"trailing data", inv("set_years", `{"yearA":2010,"yearB":2020}}`), "not valid JSON", nil},
		{"array", inv("set_years", `[2010,2020]`), "not a JSON object", nil},
		{"string that is not json", inv("set_years", `"2010 to 2020"`), "not a JSON object", nil},
		{"missing required", inv("set_years", `{"yearA":2010}`), `missing required field "yearB"`,
			map[string]any{"yearA": int64(2010)}},
		{"empty arguments", inv("showNDVI", ``), `missing required field "area"`, map[string]any{}},
		{"string year", inv("set_years", `{"yearA":"2010","yearB":2020}`), `field "yearA": expected integer, got string`,
			map[string]any{"yearB": int64(2020)}},
		{"fractional year", inv("set_years", `{"yearA":2010.5,"yearB":2020}`), "expected integer, got number 2010.5",
			map[string]any{"yearB": int64(2020)}},
		{"null field", inv("showNDVI", `{"area":null,"startDate":"a","endDate":"b"}`), "expected string, got null",
			map[string]any{"startDate": "a", "endDate": "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize([]provider.ToolInvocation{tt.in})[0]
			if got.Type != ActionMalformed {
				t.Fatalf("type = %q, want malformed", got.Type)
			}
			if got.Name != tt.in.Name {
				t.Errorf("name = %q", got.Name)
			}
			if got.RawText != tt.in.RawArguments {
				t.Errorf("rawText = %q, want %q", got.RawText, tt.in.RawArguments)
			}
			if !strings.Contains(got.Reason, tt.reason) {
				t.Errorf("reason = %q, want containing %q", got.Reason, tt.reason)
			}
			if !reflect.DeepEqual(got.Fields, tt.wantFields) {
				t.Errorf("fields = %#v, want %#v", got.Fields, tt.wantFields)
			}
		})
	}
}

func TestNormalizeOptionalTypeMismatch(t *testing.T) {
	r, err := NewActionRegistry(ActionSchema{
		Name: "zoom",
		Parameters: []Parameter{
			{Name: "level", Type: KindInteger, Required: true},
			{Name: "animate", Type: KindBoolean},
			{Name: "factor", Type: KindNumber},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	n := NewNormalizer(r, nil)

	got := n.Normalize([]provider.ToolInvocation{
		inv("zoom", `{"level":3}`),
		inv("zoom", `{"level":3,"animate":"yes"}`),
		inv("zoom", `{"level":3,"animate":true,"factor":1.5}`),
	})
	if !got[0].IsValid() || len(got[0].Fields) != 1 {
		t.Errorf("absent optional field: %+v", got[0])
	}
	if got[1].Type != ActionMalformed {
		t.Errorf("mistyped optional field should be malformed, got %+v", got[1])
	}
	want := ValidAction("zoom", map[string]any{"level": int64(3), "animate": true, "factor": 1.5})
	if !reflect.DeepEqual(got[2], want) {
		t.Errorf("got %+v, want %+v", got[2], want)
	}
}

func TestNormalizePreservesOrderAndLength(t *testing.T) {
	n := NewNormalizer(NewDefaultActionRegistry(), nil)
	in := []provider.ToolInvocation{
		inv("showNDVI", `{"area":"Riyadh","startDate":"2019-01-01","endDate":"2019-06-30"}`),
		inv("nope", `{}`),
		inv("set_years", `oops`),
		inv("set_years", `{"yearA":1999,"yearB":2000}`),
	}
	got := n.Normalize(in)
	if len(got) != len(in) {
		t.Fatalf("len = %d, want %d", len(got), len(in))
	}
	wantTypes := []string{"showNDVI", ActionUnknown, ActionMalformed, "set_years"}
	for i, a := range got {
		if a.Type != wantTypes[i] {
			t.Errorf("actions[%d].Type = %q, want %q", i, a.Type, wantTypes[i])
		}
	}

	if empty := n.Normalize(nil); len(empty) != 0 {
		t.Errorf("Normalize(nil) = %v", empty)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := NewNormalizer(NewDefaultActionRegistry(), nil)
	in := []provider.ToolInvocation{
		inv("set_years", `{"yearA":2010,"yearB":2020}`),
		inv("set_years", `{"yearA":2010}`),
		inv("mystery", `{}`),
		inv("showNDVI", `{{{`),
	}
	first := n.Normalize(in)
	second := n.Normalize(in)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("not idempotent:\n%+v\n%+v", first, second)
	}
}

func TestNormalizeTruncatesRawText(t *testing.T) {
	g := NewGuard()
	g.MaxRawTextBytes = 16
	n := NewNormalizer(NewDefaultActionRegistry(), g)

	raw := "{" + strings.Repeat("x", 100)
	got := n.Normalize([]provider.ToolInvocation{inv("set_years", raw)})[0]
	if got.Type != ActionMalformed {
		t.Fatalf("type = %q", got.Type)
	}
	if len(got.RawText) > 16+len("[truncated]") || !strings.HasSuffix(got.RawText, "[truncated]") {
		t.Errorf("rawText = %q", got.RawText)
	}
}

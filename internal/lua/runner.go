// Package lua runs the optional message preparer script. The script defines
// a global prepare(text) that returns either a string (the text to send to
// the model) or a table { send_to_llm = false, message = "..." } that
// answers the user directly.
package lua

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/Sumaya3011/gee-openai-chatbot/internal/orchestrator"
)

// Script is a compiled preparer. It is safe for concurrent use: every call
// runs in a fresh Lua state.
type Script struct {
	path  string
	proto *lua.FunctionProto
}

// Load reads and compiles the script at path. Syntax errors surface here,
// at startup, rather than on the first request.
func Load(path string) (*Script, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("script path: %w", err)
	}
	src, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return Compile(absPath, string(src))
}

// Compile compiles script source; name is used in error messages.
func Compile(name, src string) (*Script, error) {
	chunk, err := parse.Parse(strings.NewReader(src), name)
	if err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}
	s := &Script{path: name, proto: proto}

	// Fail fast when prepare is missing.
	lState := s.newState(context.Background())
	defer lState.Close()
	if _, err := s.prepareFunc(lState); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Script) Path() string { return s.path }

func (s *Script) newState(ctx context.Context) *lua.LState {
	lState := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range safeLibs {
		lState.Push(lState.NewFunction(lib.open))
		lState.Push(lua.LString(lib.name))
		lState.Call(1, 0)
	}
	// The stock os library can run commands; scripts only get getenv and time.
	lState.SetGlobal("os", newOSModule(lState))
	lState.PreloadModule("os", osModuleLoader)
	lState.SetContext(ctx)
	return lState
}

func (s *Script) prepareFunc(lState *lua.LState) (*lua.LFunction, error) {
	lState.Push(lState.NewFunctionFromProto(s.proto))
	if err := lState.PCall(0, lua.MultRet, nil); err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}
	fn := lState.GetGlobal("prepare")
	if fn.Type() == lua.LTNil {
		return nil, fmt.Errorf("script must define global function prepare(text)")
	}
	f, ok := fn.(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("prepare must be a function, got %s", fn.Type().String())
	}
	return f, nil
}

// Prepare runs prepare(text). Cancelling ctx stops a runaway script.
func (s *Script) Prepare(ctx context.Context, text string) (orchestrator.Prepared, error) {
	lState := s.newState(ctx)
	defer lState.Close()

	fn, err := s.prepareFunc(lState)
	if err != nil {
		return orchestrator.Prepared{}, err
	}

	lState.Push(fn)
	lState.Push(lua.LString(text))
	if err := lState.PCall(1, 1, nil); err != nil {
		return orchestrator.Prepared{}, fmt.Errorf("prepare(): %w", err)
	}

	ret := lState.Get(-1)
	lState.Pop(1)

	switch ret.Type() {
	case lua.LTString:
		return orchestrator.Prepared{Text: ret.String(), SendToLLM: true}, nil
	case lua.LTNil:
		return orchestrator.Prepared{Text: text, SendToLLM: true}, nil
	case lua.LTTable:
		tbl := ret.(*lua.LTable)
		out := orchestrator.Prepared{Text: text, SendToLLM: true}
		if v := tbl.RawGetString("send_to_llm"); v.Type() == lua.LTBool {
			out.SendToLLM = lua.LVAsBool(v)
		}
		if v := tbl.RawGetString("message"); v.Type() == lua.LTString {
			if out.SendToLLM {
				out.Text = v.String()
			} else {
				out.Reply = v.String()
			}
		}
		return out, nil
	default:
		return orchestrator.Prepared{}, fmt.Errorf("prepare() must return string or table { send_to_llm, message }, got %s", ret.Type().String())
	}
}

var safeLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.LoadLibName, lua.OpenPackage},
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// osModuleLoader provides a minimal os module: getenv and time.
func osModuleLoader(lState *lua.LState) int {
	lState.Push(newOSModule(lState))
	return 1
}

func newOSModule(lState *lua.LState) *lua.LTable {
	mod := lState.NewTable()
	lState.SetField(mod, "getenv", lState.NewFunction(func(ls *lua.LState) int {
		key := ls.CheckString(1)
		ls.Push(lua.LString(os.Getenv(key)))
		return 1
	}))
	lState.SetField(mod, "time", lState.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	return mod
}

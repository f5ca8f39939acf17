package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/fansqz/go-debug-mediator/constants"
	"github.com/fansqz/go-debug-mediator/debugger"
	e "github.com/fansqz/go-debug-mediator/error"
	"github.com/fansqz/go-debug-mediator/protocol"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDebugger 记录调用参数，返回预设的结果
type fakeDebugger struct {
	debugger.Debugger

	startOption  *debugger.StartOption
	attachOption *debugger.AttachOption
	variables    *debugger.VariablesQuery
	evaluate     *debugger.EvaluateQuery
	enabled      *bool

	snapshot *debugger.Snapshot
	err      error
}

func (f *fakeDebugger) Start(_ context.Context, option *debugger.StartOption) (*debugger.SessionResult, error) {
	f.startOption = option
	if f.err != nil {
		return nil, f.err
	}
	return &debugger.SessionResult{Session: &debugger.SessionInfo{ID: "s1", File: option.File}, Snapshot: f.snapshot}, nil
}

func (f *fakeDebugger) Attach(_ context.Context, option *debugger.AttachOption) (*debugger.SessionResult, error) {
	f.attachOption = option
	if f.err != nil {
		return nil, f.err
	}
	return &debugger.SessionResult{Session: &debugger.SessionInfo{ID: "s1"}, Snapshot: f.snapshot}, nil
}

func (f *fakeDebugger) SetBreakpointEnabled(_ context.Context, file string, line int, enabled bool) (*debugger.Breakpoint, error) {
	f.enabled = &enabled
	if f.err != nil {
		return nil, f.err
	}
	return &debugger.Breakpoint{File: file, Line: line, Enabled: enabled}, nil
}

func (f *fakeDebugger) Continue(context.Context) (*debugger.ExecutionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &debugger.ExecutionResult{Previous: debugger.Position{File: "/src/app.py", Line: 3}, Snapshot: f.snapshot}, nil
}

func (f *fakeDebugger) GetVariables(_ context.Context, query *debugger.VariablesQuery) ([]*debugger.Variable, error) {
	f.variables = query
	if f.err != nil {
		return nil, f.err
	}
	return []*debugger.Variable{{Name: "n", Value: "3", Scope: "Locals"}}, nil
}

func (f *fakeDebugger) Evaluate(_ context.Context, query *debugger.EvaluateQuery) (*debugger.EvaluateResult, error) {
	f.evaluate = query
	if f.err != nil {
		return nil, f.err
	}
	return &debugger.EvaluateResult{Result: "6", Type: "int"}, nil
}

func newRequest(args map[string]interface{}) mcp.CallToolRequest {
	request := mcp.CallToolRequest{}
	request.Params.Arguments = args
	return request
}

// decodeResult 取出工具结果中的 protocol.Response
func decodeResult(t *testing.T, result *mcp.CallToolResult) protocol.Response {
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "got %T", result.Content[0])
	var resp protocol.Response
	require.Nil(t, json.Unmarshal([]byte(text.Text), &resp))
	assert.Equal(t, !resp.Success, result.IsError)
	return resp
}

func TestHandleStart(t *testing.T) {
	fake := &fakeDebugger{snapshot: &debugger.Snapshot{IsPaused: true, CurrentFile: "/src/app.py", CurrentLine: 1, CurrentFunction: "<module>"}}
	h := NewDebuggerHandler(fake)

	result, err := h.handleStartRequest(context.Background(), newRequest(map[string]interface{}{
		"file":        "/src/app.py",
		"stopOnEntry": true,
		"args":        []interface{}{"--verbose"},
		"env":         map[string]interface{}{"DEBUG": "1"},
	}))
	assert.Nil(t, err)
	resp := decodeResult(t, result)
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Message, "paused at /src/app.py:1")
	require.NotNil(t, resp.IsPaused)
	assert.True(t, *resp.IsPaused)

	assert.Equal(t, &debugger.StartOption{
		File:        "/src/app.py",
		StopOnEntry: true,
		Args:        []string{"--verbose"},
		Env:         map[string]string{"DEBUG": "1"},
	}, fake.startOption)
}

func TestHandleStartError(t *testing.T) {
	fake := &fakeDebugger{err: e.NewPreconditionError(e.ErrSessionActive, constants.HintStopFirst, true)}
	h := NewDebuggerHandler(fake)

	result, err := h.handleStartRequest(context.Background(), newRequest(map[string]interface{}{"file": "/src/app.py"}))
	assert.Nil(t, err)
	resp := decodeResult(t, result)
	assert.False(t, resp.Success)
	assert.Equal(t, string(e.KindPrecondition), resp.Kind)
	assert.Equal(t, constants.HintStopFirst, resp.Hint)
	require.NotNil(t, resp.IsPaused)
	assert.True(t, *resp.IsPaused)
}

func TestHandleInvalidArguments(t *testing.T) {
	h := NewDebuggerHandler(&fakeDebugger{})

	result, err := h.handleSetBreakpointRequest(context.Background(), newRequest(map[string]interface{}{
		"file": "/src/app.py",
		"line": "twelve",
	}))
	assert.Nil(t, err)
	resp := decodeResult(t, result)
	assert.False(t, resp.Success)
	assert.Equal(t, string(e.KindInvalid), resp.Kind)
	assert.Nil(t, resp.IsPaused)
}

func TestHandleAttach(t *testing.T) {
	fake := &fakeDebugger{snapshot: &debugger.Snapshot{}}
	h := NewDebuggerHandler(fake)

	result, err := h.handleAttachRequest(context.Background(), newRequest(map[string]interface{}{
		"type": "python",
		"port": float64(5678),
		"pathMappings": []interface{}{
			map[string]interface{}{"localRoot": "/src", "remoteRoot": "/app"},
		},
	}))
	assert.Nil(t, err)
	resp := decodeResult(t, result)
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Message, "running")

	assert.Equal(t, constants.AdapterPython, fake.attachOption.AdapterType)
	assert.Equal(t, 5678, fake.attachOption.Port)
	assert.Equal(t, []debugger.PathMapping{{LocalRoot: "/src", RemoteRoot: "/app"}}, fake.attachOption.PathMappings)
}

func TestHandleEnableDefaultsToTrue(t *testing.T) {
	fake := &fakeDebugger{}
	h := NewDebuggerHandler(fake)

	_, err := h.handleEnableBreakpointRequest(context.Background(), newRequest(map[string]interface{}{"file": "/src/app.py", "line": 3}))
	assert.Nil(t, err)
	require.NotNil(t, fake.enabled)
	assert.True(t, *fake.enabled)

	result, err := h.handleEnableBreakpointRequest(context.Background(), newRequest(map[string]interface{}{"file": "/src/app.py", "line": 3, "enabled": false}))
	assert.Nil(t, err)
	assert.False(t, *fake.enabled)
	assert.Contains(t, decodeResult(t, result).Message, "disabled")
}

func TestHandleExecution(t *testing.T) {
	tests := []struct {
		name     string
		snapshot *debugger.Snapshot
		paused   bool
		message  string
	}{
		{
			name:     "moved",
			snapshot: &debugger.Snapshot{IsPaused: true, CurrentFile: "/src/app.py", CurrentLine: 9, CurrentFunction: "main"},
			paused:   true,
			message:  "continue done, paused at /src/app.py:9 in main",
		},
		{
			name:     "unchanged",
			snapshot: &debugger.Snapshot{IsPaused: true, CurrentFile: "/src/app.py", CurrentLine: 3},
			paused:   true,
			message:  "(position unchanged)",
		},
		{
			name:     "event loop",
			snapshot: &debugger.Snapshot{IsInEventLoop: true},
			paused:   false,
			message:  "event loop",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeDebugger{snapshot: tt.snapshot}
			h := NewDebuggerHandler(fake)
			result, err := h.handleExecutionRequest("continue", fake.Continue)(context.Background(), newRequest(nil))
			assert.Nil(t, err)
			resp := decodeResult(t, result)
			assert.True(t, resp.Success)
			assert.Contains(t, resp.Message, tt.message)
			require.NotNil(t, resp.IsPaused)
			assert.Equal(t, tt.paused, *resp.IsPaused)
		})
	}
}

func TestHandleExecutionNotPaused(t *testing.T) {
	fake := &fakeDebugger{err: e.NewPreconditionError(e.ErrNotPaused, constants.HintEventLoop, false)}
	h := NewDebuggerHandler(fake)

	result, err := h.handleExecutionRequest("continue", fake.Continue)(context.Background(), newRequest(nil))
	assert.Nil(t, err)
	resp := decodeResult(t, result)
	assert.False(t, resp.Success)
	assert.Equal(t, constants.HintEventLoop, resp.Hint)
	require.NotNil(t, resp.IsPaused)
	assert.False(t, *resp.IsPaused)
}

func TestHandleInspection(t *testing.T) {
	fake := &fakeDebugger{}
	h := NewDebuggerHandler(fake)

	result, err := h.handleVariablesRequest(context.Background(), newRequest(map[string]interface{}{"frameId": 103, "scope": "local"}))
	assert.Nil(t, err)
	assert.True(t, decodeResult(t, result).Success)
	require.NotNil(t, fake.variables.FrameID)
	assert.Equal(t, 103, *fake.variables.FrameID)
	assert.Equal(t, "local", fake.variables.ScopeFilter)

	result, err = h.handleEvaluateRequest(context.Background(), newRequest(map[string]interface{}{"expression": "n * 2"}))
	assert.Nil(t, err)
	resp := decodeResult(t, result)
	assert.Equal(t, "6", resp.Message)
	assert.Nil(t, fake.evaluate.FrameID)
	assert.Equal(t, "n * 2", fake.evaluate.Expression)
}

func TestHandleUnknownFrame(t *testing.T) {
	fake := &fakeDebugger{err: e.NewNotFoundError(e.ErrAdapterRequestFailed, constants.HintStackTrace, "frame %d", 9999)}
	h := NewDebuggerHandler(fake)

	result, err := h.handleVariablesRequest(context.Background(), newRequest(map[string]interface{}{"frameId": 9999}))
	assert.Nil(t, err)
	resp := decodeResult(t, result)
	assert.False(t, resp.Success)
	assert.Equal(t, constants.HintStackTrace, resp.Hint)
	assert.Contains(t, resp.Message, "9999")
}

func TestToParams(t *testing.T) {
	params, err := toParams(&protocol.StateChangedEvent{Reason: "breakpoint", IsPaused: true, File: "/src/app.py", Line: 25})
	assert.Nil(t, err)
	assert.Equal(t, "breakpoint", params["reason"])
	assert.Equal(t, true, params["isPaused"])
	assert.Equal(t, float64(25), params["line"])
	assert.NotContains(t, params, "sessionId")
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fansqz/go-debug-mediator/constants"
	"github.com/fansqz/go-debug-mediator/debugger"
	e "github.com/fansqz/go-debug-mediator/error"
	"github.com/fansqz/go-debug-mediator/protocol"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
)

// DebuggerHandler 把 MCP 工具调用转换为调试器操作
// 每个工具的结果都是 protocol.Response 的 JSON 文本
type DebuggerHandler struct {
	debugger debugger.Debugger
}

func NewDebuggerHandler(d debugger.Debugger) *DebuggerHandler {
	return &DebuggerHandler{debugger: d}
}

func (d *DebuggerHandler) handleStartRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req protocol.StartDebugRequest
	if err := decodeArguments(request, &req); err != nil {
		return parseError(err), nil
	}
	result, err := d.debugger.Start(ctx, &debugger.StartOption{
		File:        req.File,
		AdapterType: constants.AdapterType(req.Type),
		StopOnEntry: req.StopOnEntry,
		Args:        req.Args,
		Cwd:         req.Cwd,
		Env:         req.Env,
	})
	if err != nil {
		return sendError(err), nil
	}
	return sendResponse(true, "debug session started, "+describeSnapshot(result.Snapshot), pausedOf(result.Snapshot), result), nil
}

func (d *DebuggerHandler) handleAttachRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req protocol.AttachRequest
	if err := decodeArguments(request, &req); err != nil {
		return parseError(err), nil
	}
	mappings := make([]debugger.PathMapping, 0, len(req.PathMappings))
	for _, m := range req.PathMappings {
		mappings = append(mappings, debugger.PathMapping{LocalRoot: m.LocalRoot, RemoteRoot: m.RemoteRoot})
	}
	result, err := d.debugger.Attach(ctx, &debugger.AttachOption{
		Host:         req.Host,
		Port:         req.Port,
		AdapterType:  constants.AdapterType(req.Type),
		PathMappings: mappings,
	})
	if err != nil {
		return sendError(err), nil
	}
	return sendResponse(true, "attached, "+describeSnapshot(result.Snapshot), pausedOf(result.Snapshot), result), nil
}

func (d *DebuggerHandler) handleStopRequest(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := d.debugger.Stop(ctx); err != nil {
		return sendError(err), nil
	}
	return sendResponse(true, "debug session stopped", nil, nil), nil
}

func (d *DebuggerHandler) handleStatusRequest(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := d.debugger.Status(ctx)
	if err != nil {
		return sendError(err), nil
	}
	if !status.Active {
		return sendResponse(true, "no active debug session", pausedOf(status.Snapshot), status), nil
	}
	return sendResponse(true, describeSnapshot(status.Snapshot), pausedOf(status.Snapshot), status), nil
}

func (d *DebuggerHandler) handleSetBreakpointRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req protocol.BreakpointRequest
	if err := decodeArguments(request, &req); err != nil {
		return parseError(err), nil
	}
	bp, err := d.debugger.SetBreakpoint(ctx, req.File, req.Line, req.Condition)
	if err != nil {
		return sendError(err), nil
	}
	return sendResponse(true, fmt.Sprintf("breakpoint set at %s:%d", bp.File, bp.Line), nil, bp), nil
}

func (d *DebuggerHandler) handleRemoveBreakpointRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req protocol.RemoveBreakpointRequest
	if err := decodeArguments(request, &req); err != nil {
		return parseError(err), nil
	}
	if err := d.debugger.RemoveBreakpoint(ctx, req.File, req.Line); err != nil {
		return sendError(err), nil
	}
	return sendResponse(true, fmt.Sprintf("breakpoint removed at %s:%d", req.File, req.Line), nil, nil), nil
}

func (d *DebuggerHandler) handleEnableBreakpointRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := protocol.EnableBreakpointRequest{Enabled: true}
	if err := decodeArguments(request, &req); err != nil {
		return parseError(err), nil
	}
	bp, err := d.debugger.SetBreakpointEnabled(ctx, req.File, req.Line, req.Enabled)
	if err != nil {
		return sendError(err), nil
	}
	state := "disabled"
	if bp.Enabled {
		state = "enabled"
	}
	return sendResponse(true, fmt.Sprintf("breakpoint %s at %s:%d", state, bp.File, bp.Line), nil, bp), nil
}

func (d *DebuggerHandler) handleListBreakpointsRequest(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bps, err := d.debugger.ListBreakpoints(ctx)
	if err != nil {
		return sendError(err), nil
	}
	return sendResponse(true, fmt.Sprintf("%d breakpoint(s)", len(bps)), nil, bps), nil
}

// handleExecutionRequest continue/step/pause 共用的处理逻辑
func (d *DebuggerHandler) handleExecutionRequest(name string,
	fun func(ctx context.Context) (*debugger.ExecutionResult, error)) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := fun(ctx)
		if err != nil {
			return sendError(err), nil
		}
		message := name + " done, " + describeSnapshot(result.Snapshot)
		if result.Snapshot.IsPaused && result.Previous == result.Snapshot.Position() {
			message += " (position unchanged)"
		}
		return sendResponse(true, message, pausedOf(result.Snapshot), result), nil
	}
}

func (d *DebuggerHandler) handleStackTraceRequest(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	frames, err := d.debugger.GetStackTrace(ctx)
	if err != nil {
		return sendError(err), nil
	}
	return sendResponse(true, fmt.Sprintf("%d frame(s)", len(frames)), paused(true), frames), nil
}

func (d *DebuggerHandler) handleVariablesRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req protocol.GetVariablesRequest
	if err := decodeArguments(request, &req); err != nil {
		return parseError(err), nil
	}
	variables, err := d.debugger.GetVariables(ctx, &debugger.VariablesQuery{
		FrameID:     req.FrameID,
		ScopeFilter: req.Scope,
	})
	if err != nil {
		return sendError(err), nil
	}
	return sendResponse(true, fmt.Sprintf("%d variable(s)", len(variables)), paused(true), variables), nil
}

func (d *DebuggerHandler) handleEvaluateRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var req protocol.EvaluateRequest
	if err := decodeArguments(request, &req); err != nil {
		return parseError(err), nil
	}
	result, err := d.debugger.Evaluate(ctx, &debugger.EvaluateQuery{
		Expression: req.Expression,
		FrameID:    req.FrameID,
		Context:    constants.EvaluateContext(req.Context),
	})
	if err != nil {
		return sendError(err), nil
	}
	return sendResponse(true, result.Result, paused(true), result), nil
}

func (d *DebuggerHandler) handleThreadsRequest(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	threads, err := d.debugger.GetThreads(ctx)
	if err != nil {
		return sendError(err), nil
	}
	return sendResponse(true, fmt.Sprintf("%d thread(s)", len(threads)), nil, threads), nil
}

// decodeArguments 把工具参数解析到请求结构体中
func decodeArguments(request mcp.CallToolRequest, req interface{}) error {
	data, err := json.Marshal(request.GetArguments())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, req)
}

func parseError(err error) *mcp.CallToolResult {
	logrus.Warnf("parse request error, err = %v", err)
	return sendError(e.NewInvalidError(fmt.Errorf("%w: %v", e.ErrInvalidArgument, err), "check the tool arguments against the input schema"))
}

// sendError 把错误转换为失败的响应，HintError 中的修正提示会一并返回
func sendError(err error) *mcp.CallToolResult {
	resp := &protocol.Response{Success: false, Message: err.Error()}
	var hintErr *e.HintError
	if errors.As(err, &hintErr) {
		resp.Kind = string(hintErr.Kind)
		resp.Hint = hintErr.Hint
		resp.IsPaused = hintErr.IsPaused
	}
	return writeResponse(resp)
}

func sendResponse(success bool, message string, isPaused *bool, body interface{}) *mcp.CallToolResult {
	return writeResponse(&protocol.Response{
		Success:  success,
		Message:  message,
		IsPaused: isPaused,
		Data:     body,
	})
}

func writeResponse(resp *protocol.Response) *mcp.CallToolResult {
	data, err := json.Marshal(resp)
	if err != nil {
		logrus.Errorf("marshal response error, err = %v", err)
		return mcp.NewToolResultError(err.Error())
	}
	result := mcp.NewToolResultText(string(data))
	result.IsError = !resp.Success
	return result
}

func describeSnapshot(s *debugger.Snapshot) string {
	switch {
	case s == nil:
		return "state unknown"
	case s.IsInEventLoop:
		return "program is waiting in its event loop"
	case s.IsPaused:
		return fmt.Sprintf("paused at %s:%d in %s", s.CurrentFile, s.CurrentLine, s.CurrentFunction)
	default:
		return "program is running"
	}
}

func pausedOf(s *debugger.Snapshot) *bool {
	if s == nil {
		return nil
	}
	return paused(s.IsPaused)
}

func paused(b bool) *bool {
	return &b
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fansqz/go-debug-mediator/config"
	"github.com/fansqz/go-debug-mediator/protocol"
	"github.com/fansqz/go-debug-mediator/utils/gosync"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
)

const serverInstructions = `Debug programs through a debug adapter.
Start with debug_start (or debug_attach), set breakpoints with breakpoint_set,
then drive execution with debug_continue and the step tools. Inspection tools
(debug_stack_trace, debug_variables, debug_evaluate) require isPaused=true.
isInEventLoop=true means the program is idle in its event loop and needs
external activity to reach a breakpoint.`

// DebugServer 对外提供 MCP 服务
type DebugServer struct {
	cfg config.ServerConfig
	mcp *server.MCPServer
}

func NewDebugServer(cfg config.ServerConfig) *DebugServer {
	s := server.NewMCPServer(
		"debug-mediator",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions),
	)
	return &DebugServer{cfg: cfg, mcp: s}
}

// Register 注册所有调试工具
func (s *DebugServer) Register(h *DebuggerHandler) {
	// 会话
	s.mcp.AddTool(mcp.NewTool("debug_start",
		mcp.WithDescription("Launch a program under the debugger. Only one session may be active."),
		mcp.WithString("file", mcp.Required(), mcp.Description("Absolute path of the program to debug")),
		mcp.WithString("type", mcp.Description("Adapter type (python, node, go, lldb); detected from the file extension when omitted")),
		mcp.WithBoolean("stopOnEntry", mcp.Description("Pause at the first line")),
		mcp.WithArray("args", mcp.Description("Program arguments"), mcp.Items(map[string]interface{}{"type": "string"})),
		mcp.WithString("cwd", mcp.Description("Working directory, defaults to the file's directory")),
		mcp.WithObject("env", mcp.Description("Extra environment variables")),
	), h.handleStartRequest)
	s.mcp.AddTool(mcp.NewTool("debug_attach",
		mcp.WithDescription("Attach to a program that is already listening for a debugger."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Adapter type (python, node, go, lldb)")),
		mcp.WithNumber("port", mcp.Required(), mcp.Description("Debug port of the running program")),
		mcp.WithString("host", mcp.Description("Host of the running program, defaults to 127.0.0.1")),
		mcp.WithArray("pathMappings", mcp.Description("Local to remote source root mappings"), mcp.Items(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"localRoot":  map[string]interface{}{"type": "string"},
				"remoteRoot": map[string]interface{}{"type": "string"},
			},
		})),
	), h.handleAttachRequest)
	s.mcp.AddTool(mcp.NewTool("debug_stop",
		mcp.WithDescription("Terminate the active debug session."),
	), h.handleStopRequest)
	s.mcp.AddTool(mcp.NewTool("debug_status",
		mcp.WithDescription("Refresh and report the session state: isPaused, isInEventLoop and the current location."),
	), h.handleStatusRequest)

	// 断点
	s.mcp.AddTool(mcp.NewTool("breakpoint_set",
		mcp.WithDescription("Set a breakpoint. Setting the same location twice updates the existing breakpoint."),
		mcp.WithString("file", mcp.Required(), mcp.Description("Absolute source file path")),
		mcp.WithNumber("line", mcp.Required(), mcp.Description("1-based line number")),
		mcp.WithString("condition", mcp.Description("Only stop when this expression is true")),
	), h.handleSetBreakpointRequest)
	s.mcp.AddTool(mcp.NewTool("breakpoint_remove",
		mcp.WithDescription("Remove the breakpoint at a location."),
		mcp.WithString("file", mcp.Required(), mcp.Description("Absolute source file path")),
		mcp.WithNumber("line", mcp.Required(), mcp.Description("1-based line number")),
	), h.handleRemoveBreakpointRequest)
	s.mcp.AddTool(mcp.NewTool("breakpoint_list",
		mcp.WithDescription("List breakpoints with their verification state."),
	), h.handleListBreakpointsRequest)
	s.mcp.AddTool(mcp.NewTool("breakpoint_enable",
		mcp.WithDescription("Enable or disable the breakpoint at a location."),
		mcp.WithString("file", mcp.Required(), mcp.Description("Absolute source file path")),
		mcp.WithNumber("line", mcp.Required(), mcp.Description("1-based line number")),
		mcp.WithBoolean("enabled", mcp.Description("false disables the breakpoint, defaults to true")),
	), h.handleEnableBreakpointRequest)

	// 执行控制
	s.mcp.AddTool(mcp.NewTool("debug_continue",
		mcp.WithDescription("Resume execution until the next breakpoint or the end of the program. Requires isPaused=true."),
	), h.handleExecutionRequest("continue", h.debugger.Continue))
	s.mcp.AddTool(mcp.NewTool("debug_step_over",
		mcp.WithDescription("Run to the next line without entering calls. Requires isPaused=true."),
	), h.handleExecutionRequest("step over", h.debugger.StepOver))
	s.mcp.AddTool(mcp.NewTool("debug_step_into",
		mcp.WithDescription("Step into the call on the current line. Requires isPaused=true."),
	), h.handleExecutionRequest("step into", h.debugger.StepInto))
	s.mcp.AddTool(mcp.NewTool("debug_step_out",
		mcp.WithDescription("Run until the current function returns. Requires isPaused=true."),
	), h.handleExecutionRequest("step out", h.debugger.StepOut))
	s.mcp.AddTool(mcp.NewTool("debug_pause",
		mcp.WithDescription("Pause the running program. Fails when it is already paused."),
	), h.handleExecutionRequest("pause", h.debugger.Pause))

	// 检查
	s.mcp.AddTool(mcp.NewTool("debug_stack_trace",
		mcp.WithDescription("Return the stack frames of the paused thread; frame ids feed debug_variables and debug_evaluate."),
	), h.handleStackTraceRequest)
	s.mcp.AddTool(mcp.NewTool("debug_variables",
		mcp.WithDescription("List the variables of a stack frame."),
		mcp.WithNumber("frameId", mcp.Description("Frame id from debug_stack_trace, defaults to the top frame")),
		mcp.WithString("scope", mcp.Description("Case-insensitive scope name filter, e.g. local or global")),
	), h.handleVariablesRequest)
	s.mcp.AddTool(mcp.NewTool("debug_evaluate",
		mcp.WithDescription("Evaluate an expression in a stack frame. Expressions may have side effects."),
		mcp.WithString("expression", mcp.Required(), mcp.Description("Expression in the language of the program")),
		mcp.WithNumber("frameId", mcp.Description("Frame id from debug_stack_trace, defaults to the top frame")),
		mcp.WithString("context", mcp.Description("Evaluation context, defaults to watch"), mcp.Enum("watch", "repl", "hover", "clipboard")),
	), h.handleEvaluateRequest)
	s.mcp.AddTool(mcp.NewTool("debug_threads",
		mcp.WithDescription("List the threads of the debugged program."),
	), h.handleThreadsRequest)
}

// Notify 把调试器的事件推送给所有已连接的客户端
func (s *DebugServer) Notify(event interface{}) {
	var method string
	switch event.(type) {
	case *protocol.StateChangedEvent:
		method = protocol.StateChangedMethod
	case *protocol.SessionEndedEvent:
		method = protocol.SessionEndedMethod
	case *protocol.OutputEvent:
		method = protocol.OutputMethod
	default:
		logrus.Warnf("[DebugServer] unknown event type %T", event)
		return
	}
	params, err := toParams(event)
	if err != nil {
		logrus.Warnf("[DebugServer] encode %s error, err = %v", method, err)
		return
	}
	s.mcp.SendNotificationToAllClients(method, params)
}

func toParams(event interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	params := map[string]interface{}{}
	if err = json.Unmarshal(data, &params); err != nil {
		return nil, err
	}
	return params, nil
}

// Run 按配置的传输方式提供服务，直到 ctx 结束
func (s *DebugServer) Run(ctx context.Context) error {
	switch s.cfg.Transport {
	case "stdio":
		logrus.Infof("[DebugServer] serving on stdio")
		return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
	case "http":
		httpServer := server.NewStreamableHTTPServer(s.mcp)
		errCh := make(chan error, 1)
		gosync.Go(ctx, func(ctx context.Context) {
			logrus.Infof("[DebugServer] listening at %s", s.cfg.Addr)
			errCh <- httpServer.Start(s.cfg.Addr)
		})
		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return httpServer.Shutdown(context.Background())
		}
	default:
		return fmt.Errorf("unknown transport %q", s.cfg.Transport)
	}
}

package dap_debugger

import (
	"context"

	"github.com/fansqz/go-debug-mediator/adapter"
	"github.com/fansqz/go-debug-mediator/constants"
	"github.com/google/go-dap"
)

// Evaluator 计算表达式，分类器只依赖这一项能力
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*dap.EvaluateResponseBody, error)
}

// Adapter 与调试适配器的连接，由 *adapter.Client 实现
type Adapter interface {
	Evaluator
	OnEvent(handler adapter.EventHandler)
	Initialize(ctx context.Context, adapterID string) (*dap.Capabilities, error)
	Launch(ctx context.Context, args map[string]interface{}, configure func(ctx context.Context) error) error
	Attach(ctx context.Context, args map[string]interface{}, configure func(ctx context.Context) error) error
	Threads(ctx context.Context) ([]dap.Thread, error)
	StackTrace(ctx context.Context, threadID int, levels int) ([]dap.StackFrame, error)
	Scopes(ctx context.Context, frameID int) ([]dap.Scope, error)
	Variables(ctx context.Context, reference int) ([]dap.Variable, error)
	SetBreakpoints(ctx context.Context, path string, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error)
	Continue(ctx context.Context, threadID int) (bool, error)
	Next(ctx context.Context, threadID int) error
	StepIn(ctx context.Context, threadID int) error
	StepOut(ctx context.Context, threadID int) error
	Pause(ctx context.Context, threadID int) error
	Terminate(ctx context.Context) error
	Close() error
}

var _ Adapter = (*adapter.Client)(nil)

// Connector 为某种语言创建适配器连接
type Connector interface {
	Spawn(ctx context.Context, t constants.AdapterType) (Adapter, error)
}

// LauncherConnector 使用 adapter.Launcher 启动适配器进程
type LauncherConnector struct {
	Launcher *adapter.Launcher
}

func (l *LauncherConnector) Spawn(ctx context.Context, t constants.AdapterType) (Adapter, error) {
	client, err := l.Launcher.Spawn(ctx, t)
	if err != nil {
		return nil, err
	}
	return client, nil
}

package debugger

import (
	"context"
)

// NotificationCallback 状态变化时的回调，参数为 protocol 包中的事件
type NotificationCallback func(interface{})

// Debugger
// 对外暴露的调试操作，同一时间只允许一个会话
// 所有检查与执行类操作都要求程序处于暂停状态
type Debugger interface {
	// Start 启动被调试程序，返回会话与初始快照
	Start(ctx context.Context, option *StartOption) (*SessionResult, error)
	// Attach 附加到已运行的程序
	Attach(ctx context.Context, option *AttachOption) (*SessionResult, error)
	// Stop 终止当前会话
	Stop(ctx context.Context) error
	// Status 刷新后返回当前状态
	Status(ctx context.Context) (*Status, error)

	// SetBreakpoint 设置断点，同一位置重复设置会合并
	SetBreakpoint(ctx context.Context, file string, line int, condition string) (*Breakpoint, error)
	// RemoveBreakpoint 移除该位置的所有断点
	RemoveBreakpoint(ctx context.Context, file string, line int) error
	// SetBreakpointEnabled 启用或禁用断点
	SetBreakpointEnabled(ctx context.Context, file string, line int, enabled bool) (*Breakpoint, error)
	// ListBreakpoints 返回断点列表
	ListBreakpoints(ctx context.Context) ([]*Breakpoint, error)

	// Continue 继续执行
	Continue(ctx context.Context) (*ExecutionResult, error)
	// StepOver 下一步，不会进入函数内部
	StepOver(ctx context.Context) (*ExecutionResult, error)
	// StepInto 下一步，会进入函数内部
	StepInto(ctx context.Context) (*ExecutionResult, error)
	// StepOut 单步退出
	StepOut(ctx context.Context) (*ExecutionResult, error)
	// Pause 暂停运行中的程序
	Pause(ctx context.Context) (*ExecutionResult, error)

	// GetStackTrace 获取栈帧，返回的帧id是其他检查操作的输入
	GetStackTrace(ctx context.Context) ([]*StackFrame, error)
	// GetVariables 获取某个栈帧中的变量列表
	GetVariables(ctx context.Context, query *VariablesQuery) ([]*Variable, error)
	// Evaluate 计算表达式
	// 只读只是约定，表达式可能产生副作用
	Evaluate(ctx context.Context, query *EvaluateQuery) (*EvaluateResult, error)
	// GetThreads 获取线程列表
	GetThreads(ctx context.Context) ([]*Thread, error)
}

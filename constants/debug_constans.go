package constants

// RequestKind 会话的创建方式
type RequestKind string

const (
	LaunchRequest RequestKind = "launch"
	AttachRequest RequestKind = "attach"
)

// ThreadEventReason thread事件的原因
type ThreadEventReason string

const (
	ThreadStarted ThreadEventReason = "started"
	ThreadExited  ThreadEventReason = "exited"
)

// StoppedReasonType 程序停止类型
type StoppedReasonType string

const (
	BreakpointStopped StoppedReasonType = "breakpoint"
	StepStopped       StoppedReasonType = "step"
	PauseStopped      StoppedReasonType = "pause"
	EntryStopped      StoppedReasonType = "entry"
	ExceptionStopped  StoppedReasonType = "exception"
	RefreshStopped    StoppedReasonType = "refresh"
)

// StepType 单步调试类型
type StepType string

const (
	StepIn   StepType = "stepIn"
	StepOut  StepType = "stepOut"
	StepOver StepType = "stepOver"
)

// EvaluateContext evaluate请求的上下文
// watch 约定为只读，但适配器并不会强制保证
type EvaluateContext string

const (
	EvaluateWatch     EvaluateContext = "watch"
	EvaluateRepl      EvaluateContext = "repl"
	EvaluateHover     EvaluateContext = "hover"
	EvaluateClipboard EvaluateContext = "clipboard"
)

// ScopeName 常见作用域名称，用于过滤
type ScopeName string

const (
	ScopeLocal   ScopeName = "local"
	ScopeGlobal  ScopeName = "global"
	ScopeClosure ScopeName = "closure"
	ScopeModule  ScopeName = "module"
)

// AttachStyle attach请求中host/port的编码方式
type AttachStyle string

const (
	// AttachTopLevel host/port 直接位于参数顶层
	AttachTopLevel AttachStyle = "top-level"
	// AttachConnect host/port 嵌套在 connect 对象中
	AttachConnect AttachStyle = "connect"
	// AttachAddress 使用 address/port 字段
	AttachAddress AttachStyle = "address"
)

// TransportType 与适配器通信的方式
type TransportType string

const (
	TransportStdio TransportType = "stdio"
	TransportTCP   TransportType = "tcp"
)

// Hints returned alongside precondition failures.
const (
	HintWaitOrPause   = "wait for a breakpoint to be hit or call debug_pause"
	HintResume        = "the program is already paused; use debug_continue or a step operation"
	HintStopFirst     = "a debug session is already active; call debug_stop first"
	HintStartFirst    = "no debug session is active; call debug_start or debug_attach"
	HintListFirst     = "call breakpoint_list to see the registered breakpoints"
	HintEventLoop     = "the program is blocked in an event loop; trigger activity (e.g. send a request) so it reaches a breakpoint"
	HintStackTrace    = "call debug_stack_trace first to discover valid frame ids"
	HintDetectAdapter = "pass an explicit adapter type"
)

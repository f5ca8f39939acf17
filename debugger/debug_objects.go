package debugger

import (
	"github.com/fansqz/go-debug-mediator/constants"
)

// StartOption 启动调试的参数
type StartOption struct {
	// File 被调试文件，必须存在
	File string
	// AdapterType 为空时根据文件后缀推断
	AdapterType constants.AdapterType
	StopOnEntry bool
	Args        []string
	Cwd         string
	Env         map[string]string
}

// AttachOption 附加到已运行程序的参数
type AttachOption struct {
	Host         string
	Port         int
	AdapterType  constants.AdapterType
	PathMappings []PathMapping
}

// PathMapping 本地与远程源码根目录的映射
type PathMapping struct {
	LocalRoot  string `json:"localRoot"`
	RemoteRoot string `json:"remoteRoot"`
}

// SessionInfo 当前会话
type SessionInfo struct {
	ID          string                `json:"sessionId"`
	File        string                `json:"file,omitempty"`
	AdapterType constants.AdapterType `json:"adapterType"`
	RequestKind constants.RequestKind `json:"requestKind"`
}

// Thread 被调试程序中的一个线程
type Thread struct {
	ID         int                         `json:"id"`
	Name       string                      `json:"name"`
	Stopped    bool                        `json:"stopped"`
	StopReason constants.StoppedReasonType `json:"stopReason,omitempty"`
	IsMain     bool                        `json:"isMain,omitempty"`
}

// StackFrame 栈帧，行号从1开始
type StackFrame struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Path   string `json:"path"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// Breakpoint 表示断点，行号从1开始
type Breakpoint struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Condition string `json:"condition,omitempty"`
	Enabled   bool   `json:"enabled"`
	Verified  bool   `json:"verified"`
	// Message 适配器给出的未验证原因
	Message string `json:"message,omitempty"`
}

func NewBreakpoint(file string, line int) *Breakpoint {
	return &Breakpoint{File: file, Line: line, Enabled: true}
}

// Position 暂停位置
type Position struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Function string `json:"function,omitempty"`
}

// Snapshot 对外可见的暂停状态
// IsInEventLoop 为 true 时 IsPaused 一定为 false
type Snapshot struct {
	IsPaused        bool          `json:"isPaused"`
	IsInEventLoop   bool          `json:"isInEventLoop"`
	CurrentFile     string        `json:"currentFile,omitempty"`
	CurrentLine     int           `json:"currentLine,omitempty"`
	CurrentFunction string        `json:"currentFunction,omitempty"`
	StackFrames     []*StackFrame `json:"stackFrames,omitempty"`
	PausedThreadID  int           `json:"pausedThreadId,omitempty"`
	PausedFrameID   int           `json:"pausedFrameId,omitempty"`
}

// Position 返回快照中的当前位置
func (s *Snapshot) Position() Position {
	return Position{File: s.CurrentFile, Line: s.CurrentLine, Function: s.CurrentFunction}
}

// Status 状态查询结果
type Status struct {
	Active   bool         `json:"active"`
	Session  *SessionInfo `json:"session,omitempty"`
	Snapshot *Snapshot    `json:"snapshot"`
	ExitCode *int         `json:"exitCode,omitempty"`
}

// SessionResult start/attach 的结果
type SessionResult struct {
	Session  *SessionInfo `json:"session"`
	Snapshot *Snapshot    `json:"snapshot"`
}

// ExecutionResult 执行控制的结果，Previous 用于调用方对比位置变化
type ExecutionResult struct {
	Previous Position  `json:"previous"`
	Snapshot *Snapshot `json:"snapshot"`
}

// Variable 变量
type Variable struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Value string `json:"value"`
	// Scope 变量所属的作用域名称
	Scope string `json:"scope"`
	// Reference 大于0时可以继续展开
	Reference int `json:"reference,omitempty"`
}

// VariablesQuery 变量查询参数
type VariablesQuery struct {
	// FrameID 为 nil 时使用栈顶
	FrameID *int
	// ScopeFilter 按作用域名称做大小写无关的子串匹配
	ScopeFilter string
}

// EvaluateQuery 表达式计算参数
type EvaluateQuery struct {
	Expression string
	FrameID    *int
	Context    constants.EvaluateContext
}

// EvaluateResult 表达式计算结果
type EvaluateResult struct {
	Result    string `json:"result"`
	Type      string `json:"type,omitempty"`
	Reference int    `json:"reference,omitempty"`
}

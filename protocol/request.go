package protocol

// StartDebugRequest 启动调试请求
type StartDebugRequest struct {
	// File 被调试文件的绝对路径
	File string `json:"file"`
	// Type 调试适配器类型，为空时根据文件后缀推断
	Type        string            `json:"type"`
	StopOnEntry bool              `json:"stopOnEntry"`
	Args        []string          `json:"args"`
	Cwd         string            `json:"cwd"`
	Env         map[string]string `json:"env"`
}

// AttachRequest 附加到已运行的程序
type AttachRequest struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	Type         string        `json:"type"`
	PathMappings []PathMapping `json:"pathMappings"`
}

// PathMapping 本地路径与远程路径的映射
type PathMapping struct {
	LocalRoot  string `json:"localRoot"`
	RemoteRoot string `json:"remoteRoot"`
}

// BreakpointRequest 设置断点
type BreakpointRequest struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Condition string `json:"condition"`
}

// RemoveBreakpointRequest 移除断点
type RemoveBreakpointRequest struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

// EnableBreakpointRequest 启用或禁用断点
type EnableBreakpointRequest struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Enabled bool   `json:"enabled"`
}

// GetVariablesRequest 获取某个栈帧的变量
// FrameID 为空时使用栈顶
type GetVariablesRequest struct {
	FrameID *int   `json:"frameId"`
	Scope   string `json:"scope"`
}

// EvaluateRequest 在某个栈帧中计算表达式
type EvaluateRequest struct {
	Expression string `json:"expression"`
	FrameID    *int   `json:"frameId"`
	Context    string `json:"context"`
}

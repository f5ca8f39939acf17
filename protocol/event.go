package protocol

// 推送给 MCP 客户端的通知方法名
const (
	StateChangedMethod = "notifications/debug_state"
	SessionEndedMethod = "notifications/debug_session_ended"
	OutputMethod       = "notifications/debug_output"
)

// StateChangedEvent
// 暂停状态发生变化时推送，客户端可以据此决定是否需要调用 debug_status
type StateChangedEvent struct {
	Reason        string `json:"reason"`
	SessionID     string `json:"sessionId,omitempty"`
	IsPaused      bool   `json:"isPaused"`
	IsInEventLoop bool   `json:"isInEventLoop"`
	File          string `json:"file,omitempty"`
	Line          int    `json:"line,omitempty"`
	Function      string `json:"function,omitempty"`
}

// SessionEndedEvent
// 会话结束（适配器终止或连接断开）
type SessionEndedEvent struct {
	SessionID string `json:"sessionId"`
	ExitCode  *int   `json:"exitCode,omitempty"`
}

// OutputEvent
// 被调试程序产生的输出
type OutputEvent struct {
	Category string `json:"category"`
	Output   string `json:"output"`
}

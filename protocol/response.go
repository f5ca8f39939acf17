package protocol

// Response 所有工具调用返回的统一结构
// IsPaused 仅在与暂停状态相关时返回
type Response struct {
	Success  bool        `json:"success"`
	Message  string      `json:"message,omitempty"`
	Hint     string      `json:"hint,omitempty"`
	Kind     string      `json:"kind,omitempty"`
	IsPaused *bool       `json:"isPaused,omitempty"`
	Data     interface{} `json:"data,omitempty"`
}

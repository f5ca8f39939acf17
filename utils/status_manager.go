package utils

import "sync"

const (
	// Idle 没有调试会话
	Idle = "idle"
	// Starting 正在启动或附加
	Starting = "starting"
	// Active 会话已建立
	Active = "active"
	// Stopping 正在终止
	Stopping = "stopping"
)

// StatusManager 记录调试会话的生命周期状态
type StatusManager struct {
	lock   sync.RWMutex
	status string
}

func NewStatusManager() *StatusManager {
	return &StatusManager{
		status: Idle,
	}
}

func (s *StatusManager) Set(status string) {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.status = status
}

func (s *StatusManager) Get() string {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.status
}

func (s *StatusManager) Is(statusList ...string) bool {
	defer s.lock.RUnlock()
	s.lock.RLock()
	for _, status := range statusList {
		if s.status == status {
			return true
		}
	}
	return false
}

// Transition 仅当当前状态为 from 中的某一个时切换到 to
// 返回是否切换成功
func (s *StatusManager) Transition(to string, from ...string) bool {
	defer s.lock.Unlock()
	s.lock.Lock()
	for _, status := range from {
		if s.status == status {
			s.status = to
			return true
		}
	}
	return false
}

package utils

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TimeoutManager 一个计时器
// 如果在timeout时间内没有调用 Cancel，就会执行fun函数
// 用于等待适配器的 terminated 事件，超时后强制清理会话
type TimeoutManager struct {
	mutex    sync.Mutex
	timer    *time.Timer
	name     string
	fired    bool
	canceled bool
	done     chan struct{}
}

// NewTimeoutManager 创建一个新的计时器实例
func NewTimeoutManager(name string) *TimeoutManager {
	return &TimeoutManager{name: name, done: make(chan struct{})}
}

// Start 开始计时
// 在timeout时间内没有执行 Cancel，就会执行fun函数
func (t *TimeoutManager) Start(timeout time.Duration, fun func()) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.timer = time.AfterFunc(timeout, func() {
		t.mutex.Lock()
		if t.canceled {
			t.mutex.Unlock()
			return
		}
		t.fired = true
		t.mutex.Unlock()
		logrus.Infof("[TimeoutManager] %s expired, performing action", t.name)
		fun()
		close(t.done)
	})
}

// Cancel 取消计时，返回计时器是否已经触发
func (t *TimeoutManager) Cancel() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.fired || t.canceled {
		return t.fired
	}
	t.canceled = true
	if t.timer != nil {
		t.timer.Stop()
	}
	close(t.done)
	return false
}

// Done 计时器触发（动作执行完毕）或被取消后关闭
func (t *TimeoutManager) Done() <-chan struct{} {
	return t.done
}

package dap_debugger

import (
	"context"
	"sync"

	"github.com/fansqz/go-debug-mediator/constants"
	"github.com/fansqz/go-debug-mediator/debugger"
	e "github.com/fansqz/go-debug-mediator/error"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// SessionState 会话的暂停状态模型
// 由适配器事件驱动，并可以随时通过 Refresh 与适配器重新对齐
// 对外只通过 Snapshot 暴露，保证 isInEventLoop 为 true 时 isPaused 为 false
type SessionState struct {
	// reconcile 串行化所有状态变更（事件与刷新），保证它们按顺序生效
	reconcile sync.Mutex

	mutex          sync.RWMutex
	adapter        Adapter
	session        *debugger.SessionInfo
	paused         bool
	inEventLoop    bool
	position       debugger.Position
	frames         []*debugger.StackFrame
	pausedThreadID int
	pausedFrameID  int
	exitCode       *int

	threads    *ThreadRegistry
	classifier *PauseClassifier
	stackDepth int
}

func NewSessionState(classifier *PauseClassifier, stackDepth int) *SessionState {
	if stackDepth <= 0 {
		stackDepth = 20
	}
	return &SessionState{
		threads:    NewThreadRegistry(),
		classifier: classifier,
		stackDepth: stackDepth,
	}
}

// Begin 绑定新会话，清空上一个会话留下的状态
func (s *SessionState) Begin(session *debugger.SessionInfo, a Adapter) {
	s.reconcile.Lock()
	defer s.reconcile.Unlock()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.adapter = a
	s.session = session
	s.clearPauseLocked()
	s.position = debugger.Position{}
	s.exitCode = nil
	s.threads.Reset()
}

// Adapter 当前会话的适配器
func (s *SessionState) Adapter() (Adapter, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.adapter == nil {
		return nil, e.ErrNoActiveSession
	}
	return s.adapter, nil
}

// Session 当前会话信息，没有会话时返回 nil
func (s *SessionState) Session() *debugger.SessionInfo {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.session == nil {
		return nil
	}
	c := *s.session
	return &c
}

// Threads 线程表
func (s *SessionState) Threads() *ThreadRegistry {
	return s.threads
}

// ExitCode 最近一次 exited 事件的退出码
func (s *SessionState) ExitCode() *int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.exitCode == nil {
		return nil
	}
	code := *s.exitCode
	return &code
}

// clearPauseLocked 需要持有 mutex
func (s *SessionState) clearPauseLocked() {
	s.paused = false
	s.inEventLoop = false
	s.frames = nil
	s.pausedThreadID = 0
	s.pausedFrameID = 0
}

// OnStopped 处理 stopped 事件
// 先无条件认为已暂停，再拉取栈帧更新位置，最后交给分类器判断是否为假暂停
func (s *SessionState) OnStopped(ctx context.Context, threadID int, reason constants.StoppedReasonType, allThreadsStopped bool) {
	s.reconcile.Lock()
	defer s.reconcile.Unlock()

	a, err := s.Adapter()
	if err != nil {
		return
	}
	if threadID == 0 {
		if id, ok := s.threads.MainThreadID(); ok {
			threadID = id
		}
	}
	if allThreadsStopped {
		s.threads.MarkAllStopped(reason)
	}
	if threadID != 0 {
		s.threads.MarkStopped(threadID, reason)
	}
	s.mutex.Lock()
	s.paused = true
	s.inEventLoop = false
	s.pausedThreadID = threadID
	s.mutex.Unlock()
	logrus.Infof("[SessionState] thread %d stopped, reason = %s", threadID, reason)

	s.syncThreads(ctx, a)
	if threadID == 0 {
		// 没有线程id也没有已知线程，只能等待下一次刷新
		return
	}
	frames, err := s.fetchFrames(ctx, a, threadID)
	if err != nil || len(frames) == 0 {
		logrus.Warnf("[SessionState] fetch stack of thread %d fail, keep last position, err = %v", threadID, err)
		return
	}
	s.applyStop(ctx, a, threadID, frames)
}

// OnContinued 处理 continued 事件
// 没有线程id、所有线程继续、主线程或当前暂停的线程继续时清除暂停状态
func (s *SessionState) OnContinued(threadID int, allThreadsContinued bool) {
	s.reconcile.Lock()
	defer s.reconcile.Unlock()

	if allThreadsContinued {
		s.threads.MarkAllContinued()
	} else if threadID != 0 {
		s.threads.MarkContinued(threadID)
	}
	mainID, hasMain := s.threads.MainThreadID()

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if threadID == 0 || allThreadsContinued || (hasMain && threadID == mainID) || threadID == s.pausedThreadID {
		s.clearPauseLocked()
		logrus.Debugf("[SessionState] thread %d continued", threadID)
	}
}

// OnThreadEvent 处理 thread 事件，只更新线程表
func (s *SessionState) OnThreadEvent(threadID int, reason constants.ThreadEventReason) {
	s.reconcile.Lock()
	defer s.reconcile.Unlock()
	switch reason {
	case constants.ThreadStarted:
		s.threads.UpsertThread(threadID, "")
	case constants.ThreadExited:
		s.threads.RemoveThread(threadID)
	}
}

// OnExited 记录退出码
func (s *SessionState) OnExited(exitCode int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.exitCode = &exitCode
}

// OnSessionEnded 会话结束，清空所有暂停相关的状态
func (s *SessionState) OnSessionEnded() {
	s.reconcile.Lock()
	defer s.reconcile.Unlock()
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.adapter = nil
	s.session = nil
	s.clearPauseLocked()
	s.position = debugger.Position{}
	s.threads.Reset()
}

// Refresh 按需与适配器对齐，不依赖事件是否送达
// 获取线程列表失败时保持原状态；第一个能取到栈帧的线程作为真实的暂停位置；
// 没有线程能取到栈帧时认为程序在运行
// 对同样的适配器回复重复调用，结果相同
func (s *SessionState) Refresh(ctx context.Context) {
	s.reconcile.Lock()
	defer s.reconcile.Unlock()

	a, err := s.Adapter()
	if err != nil {
		return
	}
	threads, err := a.Threads(ctx)
	if err != nil {
		logrus.Warnf("[SessionState] refresh: list threads fail, keep state, err = %v", err)
		return
	}
	s.applyThreads(threads)

	for _, threadID := range s.candidateThreads(threads) {
		frames, err := s.fetchFrames(ctx, a, threadID)
		if err != nil || len(frames) == 0 {
			continue
		}
		reason := constants.RefreshStopped
		if t, ok := s.threads.Get(threadID); ok && t.Stopped && t.StopReason != "" {
			reason = t.StopReason
		}
		s.threads.MarkStopped(threadID, reason)
		s.applyStop(ctx, a, threadID, frames)
		return
	}

	s.threads.MarkAllContinued()
	s.mutex.Lock()
	s.clearPauseLocked()
	s.mutex.Unlock()
}

// candidateThreads 刷新时尝试的顺序：已记录为暂停的线程、主线程、其余线程
func (s *SessionState) candidateThreads(threads []dap.Thread) []int {
	seen := map[int]bool{}
	var order []int
	add := func(id int) {
		if id != 0 && !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}
	alive := map[int]bool{}
	for _, t := range threads {
		alive[t.Id] = true
	}
	for _, id := range s.threads.StoppedThreadIDs() {
		if alive[id] {
			add(id)
		}
	}
	if id, ok := s.threads.MainThreadID(); ok && alive[id] {
		add(id)
	}
	for _, t := range threads {
		add(t.Id)
	}
	return order
}

// applyStop 原子地更新位置与栈帧，然后分类
func (s *SessionState) applyStop(ctx context.Context, a Adapter, threadID int, frames []*debugger.StackFrame) {
	top := frames[0]
	s.mutex.Lock()
	s.paused = true
	s.inEventLoop = false
	s.pausedThreadID = threadID
	s.pausedFrameID = top.ID
	s.frames = frames
	s.position = debugger.Position{File: top.Path, Line: top.Line, Function: top.Name}
	var adapterType constants.AdapterType
	if s.session != nil {
		adapterType = s.session.AdapterType
	}
	s.mutex.Unlock()

	if s.classifier == nil {
		return
	}
	result := s.classifier.Classify(ctx, a, adapterType, top)
	if result.InEventLoop {
		s.mutex.Lock()
		s.inEventLoop = true
		s.paused = false
		s.mutex.Unlock()
	}
}

func (s *SessionState) syncThreads(ctx context.Context, a Adapter) {
	threads, err := a.Threads(ctx)
	if err != nil {
		logrus.Debugf("[SessionState] list threads fail, err = %v", err)
		return
	}
	s.applyThreads(threads)
}

func (s *SessionState) applyThreads(threads []dap.Thread) {
	ids := make([]int, len(threads))
	names := make([]string, len(threads))
	for i, t := range threads {
		ids[i] = t.Id
		names[i] = t.Name
	}
	s.threads.Sync(ids, names)
}

func (s *SessionState) fetchFrames(ctx context.Context, a Adapter, threadID int) ([]*debugger.StackFrame, error) {
	frames, err := a.StackTrace(ctx, threadID, s.stackDepth)
	if err != nil {
		return nil, err
	}
	return convertFrames(frames), nil
}

// CacheFrames 检查操作取到的栈帧，只在对应线程仍是暂停线程时缓存
func (s *SessionState) CacheFrames(threadID int, frames []*debugger.StackFrame) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.paused && s.pausedThreadID == threadID {
		s.frames = frames
	}
}

// Snapshot 状态的深拷贝
func (s *SessionState) Snapshot() *debugger.Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	snapshot := &debugger.Snapshot{
		IsPaused:        s.paused && !s.inEventLoop,
		IsInEventLoop:   s.inEventLoop,
		CurrentFile:     s.position.File,
		CurrentLine:     s.position.Line,
		CurrentFunction: s.position.Function,
		PausedThreadID:  s.pausedThreadID,
		PausedFrameID:   s.pausedFrameID,
	}
	if s.frames != nil {
		snapshot.StackFrames = make([]*debugger.StackFrame, 0, len(s.frames))
		for _, f := range s.frames {
			c := *f
			snapshot.StackFrames = append(snapshot.StackFrames, &c)
		}
	}
	return snapshot
}

func convertFrames(frames []dap.StackFrame) []*debugger.StackFrame {
	answer := make([]*debugger.StackFrame, 0, len(frames))
	for _, f := range frames {
		frame := &debugger.StackFrame{
			ID:     f.Id,
			Name:   f.Name,
			Line:   f.Line,
			Column: f.Column,
		}
		if f.Source != nil {
			frame.Path = f.Source.Path
			if frame.Path == "" {
				frame.Path = f.Source.Name
			}
		}
		answer = append(answer, frame)
	}
	return answer
}

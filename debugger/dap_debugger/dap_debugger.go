package dap_debugger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fansqz/go-debug-mediator/config"
	"github.com/fansqz/go-debug-mediator/constants"
	"github.com/fansqz/go-debug-mediator/debugger"
	e "github.com/fansqz/go-debug-mediator/error"
	"github.com/fansqz/go-debug-mediator/protocol"
	"github.com/fansqz/go-debug-mediator/utils"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// Option 创建 DAPDebugger 的参数
type Option struct {
	Config    *config.Config
	Connector Connector
	// Store 为 nil 时断点不持久化
	Store BreakpointStore
	// Callback 状态变化时回调，可以为 nil
	Callback debugger.NotificationCallback
}

// DAPDebugger 通过调试适配器协议驱动各语言的调试器
// 同一时间只有一个会话，生命周期为 idle -> starting -> active -> stopping -> idle
type DAPDebugger struct {
	cfg       *config.Config
	connector Connector
	callback  debugger.NotificationCallback

	// statusManager 会话的生命周期状态
	statusManager *utils.StatusManager
	state         *SessionState
	breakpoints   *BreakpointManager

	// stopWatch 等待 terminated 事件的计时器，仅在 stopping 阶段存在
	// cancelEvents 取消当前会话事件处理中的适配器请求
	watchMutex   sync.Mutex
	stopWatch    *utils.TimeoutManager
	cancelEvents context.CancelFunc

	// teardownMutex 计时器与 terminated 事件可能同时触发清理
	teardownMutex sync.Mutex
}

var _ debugger.Debugger = (*DAPDebugger)(nil)

func NewDAPDebugger(option *Option) *DAPDebugger {
	cfg := option.Config
	breakpoints := NewBreakpointManager(option.Store)
	classifier := NewPauseClassifier(
		NewPolicyRegistry(cfg.Classifier.Policies),
		breakpoints,
		cfg.Classifier.ProximityWindow,
		cfg.Classifier.FallbackWithoutProbe,
	)
	return &DAPDebugger{
		cfg:           cfg,
		connector:     option.Connector,
		callback:      option.Callback,
		statusManager: utils.NewStatusManager(),
		state:         NewSessionState(classifier, cfg.Session.StackDepth),
		breakpoints:   breakpoints,
	}
}

func (d *DAPDebugger) Start(ctx context.Context, option *debugger.StartOption) (*debugger.SessionResult, error) {
	logrus.Infof("[DAPDebugger] Start %s", option.File)
	if option.File == "" {
		return nil, e.NewInvalidError(e.ErrInvalidArgument, "file is required")
	}
	file, err := filepath.Abs(option.File)
	if err != nil {
		return nil, e.NewInvalidError(fmt.Errorf("%w: %v", e.ErrInvalidArgument, err), "pass an absolute file path")
	}
	info, err := os.Stat(file)
	if err != nil {
		return nil, e.NewNotFoundError(e.ErrFileNotFound, "check the file path", "%s", file)
	}
	if info.IsDir() {
		return nil, e.NewInvalidError(fmt.Errorf("%w: %s is a directory", e.ErrInvalidArgument, file), "pass a source file, not a directory")
	}

	adapterType := option.AdapterType
	if adapterType == "" {
		var ok bool
		if adapterType, ok = constants.AdapterTypeByExtension(filepath.Ext(file)); !ok {
			return nil, e.NewInvalidError(fmt.Errorf("%w for %s", e.ErrCouldNotDetectType, file), constants.HintDetectAdapter)
		}
	}
	if err = d.checkAdapter(adapterType); err != nil {
		return nil, err
	}

	session := &debugger.SessionInfo{
		ID:          utils.GetUUID(),
		File:        file,
		AdapterType: adapterType,
		RequestKind: constants.LaunchRequest,
	}
	args := buildLaunchArgs(adapterType, file, option)
	return d.open(ctx, session, func(ctx context.Context, a Adapter) error {
		return a.Launch(ctx, args, d.configure(a))
	})
}

func (d *DAPDebugger) Attach(ctx context.Context, option *debugger.AttachOption) (*debugger.SessionResult, error) {
	logrus.Infof("[DAPDebugger] Attach %s:%d", option.Host, option.Port)
	if option.AdapterType == "" {
		return nil, e.NewInvalidError(fmt.Errorf("%w: adapter type is required", e.ErrInvalidArgument), constants.HintDetectAdapter)
	}
	if option.Port <= 0 || option.Port > 65535 {
		return nil, e.NewInvalidError(fmt.Errorf("%w: port %d", e.ErrInvalidArgument, option.Port), "pass the port the debuggee listens on")
	}
	if option.Host == "" {
		option.Host = "127.0.0.1"
	}
	if err := d.checkAdapter(option.AdapterType); err != nil {
		return nil, err
	}
	adapterCfg, _ := d.cfg.Adapter(option.AdapterType)

	session := &debugger.SessionInfo{
		ID:          utils.GetUUID(),
		AdapterType: option.AdapterType,
		RequestKind: constants.AttachRequest,
	}
	args := buildAttachArgs(option.AdapterType, constants.AttachStyle(adapterCfg.AttachStyle), option)
	return d.open(ctx, session, func(ctx context.Context, a Adapter) error {
		return a.Attach(ctx, args, d.configure(a))
	})
}

func (d *DAPDebugger) checkAdapter(t constants.AdapterType) error {
	if _, ok := d.cfg.Adapter(t); !ok {
		return e.NewInvalidError(fmt.Errorf("%w: %s", e.ErrAdapterNotSupported, t), "configure an adapter for this type")
	}
	return nil
}

// configure 配置阶段，发送所有断点声明
func (d *DAPDebugger) configure(a Adapter) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := d.breakpoints.SyncAll(ctx, a); err != nil {
			logrus.Warnf("[DAPDebugger] sync breakpoints fail, err = %v", err)
		}
		return nil
	}
}

// open 启动适配器并完成 launch/attach，失败时回到 idle
func (d *DAPDebugger) open(ctx context.Context, session *debugger.SessionInfo, request func(ctx context.Context, a Adapter) error) (*debugger.SessionResult, error) {
	if !d.statusManager.Transition(utils.Starting, utils.Idle) {
		return nil, e.NewPreconditionError(e.ErrSessionActive, constants.HintStopFirst, d.state.Snapshot().IsPaused)
	}

	a, err := d.connector.Spawn(ctx, session.AdapterType)
	if err != nil {
		d.statusManager.Set(utils.Idle)
		logrus.Errorf("[DAPDebugger] spawn %s adapter fail, err = %v", session.AdapterType, err)
		return nil, d.adapterError(err)
	}

	d.state.Begin(session, a)
	sessionID := session.ID
	eventCtx, cancel := context.WithCancel(context.Background())
	d.watchMutex.Lock()
	d.cancelEvents = cancel
	d.watchMutex.Unlock()
	a.OnEvent(func(event dap.EventMessage) {
		d.handleEvent(eventCtx, sessionID, event)
	})

	if _, err = a.Initialize(ctx, string(session.AdapterType)); err == nil {
		err = request(ctx, a)
	}
	if err != nil {
		logrus.Errorf("[DAPDebugger] %s fail, err = %v", session.RequestKind, err)
		d.teardown(sessionID)
		return nil, d.adapterError(err)
	}

	if !d.statusManager.Transition(utils.Active, utils.Starting) {
		// 启动过程中适配器已经终止
		return nil, d.adapterError(fmt.Errorf("%w: session ended during %s", e.ErrDebuggerIsClosed, session.RequestKind))
	}
	logrus.Infof("[DAPDebugger] session %s active", sessionID)

	d.settle(ctx, d.cfg.Timing.StartSettle)
	d.state.Refresh(ctx)
	d.notifyState("started")
	return &debugger.SessionResult{
		Session:  d.state.Session(),
		Snapshot: d.state.Snapshot(),
	}, nil
}

// Stop 请求适配器终止，并等待 terminated 事件
// 适配器在 StopWait 内没有回应时强制清理
func (d *DAPDebugger) Stop(ctx context.Context) error {
	logrus.Infof("[DAPDebugger] Stop")
	session := d.state.Session()
	if session == nil || !d.statusManager.Transition(utils.Stopping, utils.Active) {
		return e.NewPreconditionError(e.ErrNoActiveSession, constants.HintStartFirst, false)
	}
	a, err := d.state.Adapter()
	if err != nil {
		d.teardown(session.ID)
		return nil
	}

	watch := utils.NewTimeoutManager("stop " + session.ID)
	d.watchMutex.Lock()
	d.stopWatch = watch
	d.watchMutex.Unlock()
	watch.Start(d.cfg.Timing.StopWait, func() {
		d.teardown(session.ID)
	})

	if err = a.Terminate(ctx); err != nil {
		logrus.Warnf("[DAPDebugger] terminate fail, force teardown, err = %v", err)
		d.teardown(session.ID)
	}

	select {
	case <-watch.Done():
	case <-ctx.Done():
		d.teardown(session.ID)
	}
	return nil
}

// Status 刷新后返回当前状态
func (d *DAPDebugger) Status(ctx context.Context) (*debugger.Status, error) {
	if d.statusManager.Is(utils.Active) {
		d.state.Refresh(ctx)
	}
	session := d.state.Session()
	return &debugger.Status{
		Active:   session != nil && d.statusManager.Is(utils.Active),
		Session:  session,
		Snapshot: d.state.Snapshot(),
		ExitCode: d.state.ExitCode(),
	}, nil
}

// teardown 清理会话，同一个会话只会生效一次
func (d *DAPDebugger) teardown(sessionID string) {
	d.teardownMutex.Lock()
	defer d.teardownMutex.Unlock()
	current := d.state.Session()
	if current == nil || current.ID != sessionID {
		return
	}
	a, _ := d.state.Adapter()
	exitCode := d.state.ExitCode()

	d.watchMutex.Lock()
	watch, cancel := d.stopWatch, d.cancelEvents
	d.stopWatch, d.cancelEvents = nil, nil
	d.watchMutex.Unlock()

	// 先断开适配器，事件处理可能正持有 reconcile 等待适配器的回复
	if cancel != nil {
		cancel()
	}
	if a != nil {
		if err := a.Close(); err != nil {
			logrus.Debugf("[DAPDebugger] close adapter, err = %v", err)
		}
	}
	d.state.OnSessionEnded()
	d.breakpoints.ResetVerification()
	if watch != nil {
		watch.Cancel()
	}

	d.statusManager.Set(utils.Idle)
	logrus.Infof("[DAPDebugger] session %s ended", sessionID)
	d.notify(&protocol.SessionEndedEvent{SessionID: sessionID, ExitCode: exitCode})
}

// handleEvent 在适配器的事件协程中按顺序执行
// ctx 在会话结束时取消
func (d *DAPDebugger) handleEvent(ctx context.Context, sessionID string, event dap.EventMessage) {
	if current := d.state.Session(); current == nil || current.ID != sessionID {
		return
	}
	switch ev := event.(type) {
	case *dap.StoppedEvent:
		d.state.OnStopped(ctx, ev.Body.ThreadId, constants.StoppedReasonType(ev.Body.Reason), ev.Body.AllThreadsStopped)
		d.notifyState("stopped")
	case *dap.ContinuedEvent:
		d.state.OnContinued(ev.Body.ThreadId, ev.Body.AllThreadsContinued)
		d.notifyState("continued")
	case *dap.ThreadEvent:
		d.state.OnThreadEvent(ev.Body.ThreadId, constants.ThreadEventReason(ev.Body.Reason))
	case *dap.BreakpointEvent:
		d.breakpoints.OnBreakpointEvent(ev.Body.Breakpoint)
	case *dap.ExitedEvent:
		logrus.Infof("[DAPDebugger] debuggee exited with code %d", ev.Body.ExitCode)
		d.state.OnExited(ev.Body.ExitCode)
	case *dap.TerminatedEvent:
		d.teardown(sessionID)
	case *dap.OutputEvent:
		if ev.Body.Category == "telemetry" {
			return
		}
		d.notify(&protocol.OutputEvent{Category: ev.Body.Category, Output: ev.Body.Output})
	case *dap.InitializedEvent:
	default:
		logrus.Debugf("[DAPDebugger] ignore event %s", event.GetEvent().Event)
	}
}

func (d *DAPDebugger) notifyState(reason string) {
	session := d.state.Session()
	if session == nil {
		return
	}
	snapshot := d.state.Snapshot()
	d.notify(&protocol.StateChangedEvent{
		Reason:        reason,
		SessionID:     session.ID,
		IsPaused:      snapshot.IsPaused,
		IsInEventLoop: snapshot.IsInEventLoop,
		File:          snapshot.CurrentFile,
		Line:          snapshot.CurrentLine,
		Function:      snapshot.CurrentFunction,
	})
}

func (d *DAPDebugger) notify(event interface{}) {
	if d.callback != nil {
		d.callback(event)
	}
}

// adapterError 统一包装适配器错误
func (d *DAPDebugger) adapterError(err error) error {
	var hintErr *e.HintError
	if errors.As(err, &hintErr) {
		return err
	}
	return &e.HintError{Kind: e.KindAdapter, Err: err, IsPaused: d.currentPaused()}
}

// currentPaused 会话存在时返回当前的暂停状态，没有会话时为 nil
func (d *DAPDebugger) currentPaused() *bool {
	if d.state.Session() == nil {
		return nil
	}
	paused := d.state.Snapshot().IsPaused
	return &paused
}

// settle 等待适配器完成异步操作，ctx 取消时提前返回
func (d *DAPDebugger) settle(ctx context.Context, duration time.Duration) {
	if duration <= 0 {
		return
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// activeAdapter 要求会话处于 active 状态
func (d *DAPDebugger) activeAdapter() (Adapter, error) {
	if !d.statusManager.Is(utils.Active) {
		return nil, e.NewPreconditionError(e.ErrNoActiveSession, constants.HintStartFirst, false)
	}
	a, err := d.state.Adapter()
	if err != nil {
		return nil, e.NewPreconditionError(err, constants.HintStartFirst, false)
	}
	return a, nil
}

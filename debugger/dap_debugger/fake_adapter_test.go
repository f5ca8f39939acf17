package dap_debugger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fansqz/go-debug-mediator/adapter"
	"github.com/fansqz/go-debug-mediator/config"
	"github.com/fansqz/go-debug-mediator/constants"
	"github.com/fansqz/go-debug-mediator/debugger"
	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
)

var errFakeAdapter = errors.New("fake adapter error")

// fakeAdapter 按脚本回复请求的适配器，事件同步投递给处理函数
type fakeAdapter struct {
	mutex sync.Mutex

	handler adapter.EventHandler

	threads    []dap.Thread
	threadsErr error
	stacks     map[int][]dap.StackFrame
	scopes     map[int][]dap.Scope
	variables  map[int][]dap.Variable
	// probe 任务数探针的结果，为空时 evaluate 返回错误
	probe string
	// blockProbe 为 true 时探针一直阻塞，直到 Close 或 ctx 结束
	blockProbe bool
	released   chan struct{}

	launchArgs  map[string]interface{}
	attachArgs  map[string]interface{}
	launchErr   error
	breakpoints map[string][]dap.SourceBreakpoint
	// unverified 这些行的断点返回未验证
	unverified map[int]bool

	evaluated []dap.EvaluateArguments
	requests  []string

	onLaunch   func(f *fakeAdapter)
	onContinue func(f *fakeAdapter, threadID int)
	onNext     func(f *fakeAdapter, threadID int)
	onPause    func(f *fakeAdapter, threadID int)
	// silentTerminate 为 true 时 terminate 之后不发送 terminated 事件
	silentTerminate bool

	closed bool
	nextID int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		threads:     []dap.Thread{{Id: 1, Name: "MainThread"}},
		stacks:      map[int][]dap.StackFrame{},
		scopes:      map[int][]dap.Scope{},
		variables:   map[int][]dap.Variable{},
		breakpoints: map[string][]dap.SourceBreakpoint{},
		unverified:  map[int]bool{},
		released:    make(chan struct{}),
	}
}

func frame(id int, name string, path string, line int) dap.StackFrame {
	return dap.StackFrame{Id: id, Name: name, Source: &dap.Source{Path: path}, Line: line, Column: 1}
}

// stopAt 让线程停在某个位置并发送 stopped 事件
func (f *fakeAdapter) stopAt(threadID int, reason string, frames ...dap.StackFrame) {
	f.mutex.Lock()
	f.stacks[threadID] = frames
	f.mutex.Unlock()
	f.emit(&dap.StoppedEvent{
		Event: dap.Event{Event: "stopped"},
		Body:  dap.StoppedEventBody{Reason: reason, ThreadId: threadID},
	})
}

// resume 清除线程的栈，模拟线程继续运行
func (f *fakeAdapter) resume(threadID int) {
	f.mutex.Lock()
	delete(f.stacks, threadID)
	f.mutex.Unlock()
}

func (f *fakeAdapter) emit(event dap.EventMessage) {
	f.mutex.Lock()
	handler := f.handler
	f.mutex.Unlock()
	if handler != nil {
		handler(event)
	}
}

func (f *fakeAdapter) record(command string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.requests = append(f.requests, command)
}

func (f *fakeAdapter) count(command string) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	n := 0
	for _, r := range f.requests {
		if r == command {
			n++
		}
	}
	return n
}

func (f *fakeAdapter) sentBreakpoints(path string) []dap.SourceBreakpoint {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.breakpoints[path]
}

func (f *fakeAdapter) OnEvent(handler adapter.EventHandler) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.handler = handler
}

func (f *fakeAdapter) Initialize(ctx context.Context, adapterID string) (*dap.Capabilities, error) {
	f.record("initialize")
	return &dap.Capabilities{SupportsConfigurationDoneRequest: true, SupportsTerminateRequest: true}, nil
}

func (f *fakeAdapter) Launch(ctx context.Context, args map[string]interface{}, configure func(ctx context.Context) error) error {
	f.record("launch")
	f.mutex.Lock()
	f.launchArgs = args
	f.mutex.Unlock()
	if f.launchErr != nil {
		return f.launchErr
	}
	if err := configure(ctx); err != nil {
		return err
	}
	if f.onLaunch != nil {
		f.onLaunch(f)
	}
	return nil
}

func (f *fakeAdapter) Attach(ctx context.Context, args map[string]interface{}, configure func(ctx context.Context) error) error {
	f.record("attach")
	f.mutex.Lock()
	f.attachArgs = args
	f.mutex.Unlock()
	return configure(ctx)
}

func (f *fakeAdapter) Threads(ctx context.Context) ([]dap.Thread, error) {
	f.record("threads")
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.threadsErr != nil {
		return nil, f.threadsErr
	}
	return append([]dap.Thread{}, f.threads...), nil
}

func (f *fakeAdapter) StackTrace(ctx context.Context, threadID int, levels int) ([]dap.StackFrame, error) {
	f.record("stackTrace")
	f.mutex.Lock()
	defer f.mutex.Unlock()
	frames, ok := f.stacks[threadID]
	if !ok {
		return nil, errFakeAdapter
	}
	if len(frames) > levels {
		frames = frames[:levels]
	}
	return frames, nil
}

func (f *fakeAdapter) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	f.record("scopes")
	f.mutex.Lock()
	defer f.mutex.Unlock()
	scopes, ok := f.scopes[frameID]
	if !ok {
		return nil, errFakeAdapter
	}
	return scopes, nil
}

func (f *fakeAdapter) Variables(ctx context.Context, reference int) ([]dap.Variable, error) {
	f.record("variables")
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.variables[reference], nil
}

func (f *fakeAdapter) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*dap.EvaluateResponseBody, error) {
	f.record("evaluate")
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.evaluated = append(f.evaluated, dap.EvaluateArguments{Expression: expression, FrameId: frameID, Context: evalContext})
	if expression == "len(__import__('asyncio').all_tasks())" {
		if f.blockProbe {
			released := f.released
			f.mutex.Unlock()
			select {
			case <-released:
			case <-ctx.Done():
			}
			f.mutex.Lock()
			return nil, errFakeAdapter
		}
		if f.probe == "" {
			return nil, errFakeAdapter
		}
		return &dap.EvaluateResponseBody{Result: f.probe, Type: "int"}, nil
	}
	return &dap.EvaluateResponseBody{Result: "42", Type: "int"}, nil
}

func (f *fakeAdapter) SetBreakpoints(ctx context.Context, path string, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	f.record("setBreakpoints")
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.breakpoints[path] = breakpoints
	answer := make([]dap.Breakpoint, 0, len(breakpoints))
	for _, bp := range breakpoints {
		f.nextID++
		answer = append(answer, dap.Breakpoint{Id: f.nextID, Verified: !f.unverified[bp.Line], Line: bp.Line})
	}
	return answer, nil
}

func (f *fakeAdapter) Continue(ctx context.Context, threadID int) (bool, error) {
	f.record("continue")
	f.resume(threadID)
	if f.onContinue != nil {
		f.onContinue(f, threadID)
	}
	return true, nil
}

func (f *fakeAdapter) Next(ctx context.Context, threadID int) error {
	f.record("next")
	f.resume(threadID)
	if f.onNext != nil {
		f.onNext(f, threadID)
	}
	return nil
}

func (f *fakeAdapter) StepIn(ctx context.Context, threadID int) error {
	f.record("stepIn")
	return nil
}

func (f *fakeAdapter) StepOut(ctx context.Context, threadID int) error {
	f.record("stepOut")
	return nil
}

func (f *fakeAdapter) Pause(ctx context.Context, threadID int) error {
	f.record("pause")
	if f.onPause != nil {
		f.onPause(f, threadID)
	}
	return nil
}

func (f *fakeAdapter) Terminate(ctx context.Context) error {
	f.record("terminate")
	if !f.silentTerminate {
		f.emit(&dap.TerminatedEvent{Event: dap.Event{Event: "terminated"}})
	}
	return nil
}

func (f *fakeAdapter) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if !f.closed {
		close(f.released)
	}
	f.closed = true
	return nil
}

func (f *fakeAdapter) isClosed() bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.closed
}

// fakeConnector 每次 Spawn 返回预先准备的适配器
type fakeConnector struct {
	mutex    sync.Mutex
	adapters []*fakeAdapter
	spawned  []constants.AdapterType
}

func (c *fakeConnector) Spawn(ctx context.Context, t constants.AdapterType) (Adapter, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.spawned = append(c.spawned, t)
	if len(c.adapters) == 0 {
		return nil, errFakeAdapter
	}
	a := c.adapters[0]
	c.adapters = c.adapters[1:]
	return a, nil
}

func newTestConfig() *config.Config {
	adapters := map[string]config.AdapterConfig{}
	for _, t := range constants.AdapterTypes() {
		adapters[string(t)] = config.AdapterConfig{Command: string(t), Transport: string(constants.TransportStdio)}
	}
	adapters[string(constants.AdapterPython)] = config.AdapterConfig{
		Command:     "python3",
		Transport:   string(constants.TransportStdio),
		AttachStyle: string(constants.AttachConnect),
	}
	return &config.Config{
		Timing: config.TimingConfig{
			StopWait: 200 * time.Millisecond,
		},
		Session:    config.SessionConfig{StackDepth: 20},
		Classifier: config.ClassifierConfig{ProximityWindow: 5},
		Adapters:   adapters,
	}
}

// testHelper 测试辅助结构体，封装调试器、假适配器与被调试文件
type testHelper struct {
	t         *testing.T
	workPath  string
	file      string
	adapter   *fakeAdapter
	connector *fakeConnector
	debug     *DAPDebugger
	eventsMu  sync.Mutex
	events    []interface{}
}

func newTestHelper(t *testing.T) *testHelper {
	workPath := t.TempDir()
	file := filepath.Join(workPath, "app.py")
	assert.Nil(t, os.WriteFile(file, []byte("print('hello')\n"), 0o644))

	h := &testHelper{
		t:         t,
		workPath:  workPath,
		file:      file,
		adapter:   newFakeAdapter(),
		connector: &fakeConnector{},
	}
	h.connector.adapters = []*fakeAdapter{h.adapter}
	h.debug = NewDAPDebugger(&Option{
		Config:    newTestConfig(),
		Connector: h.connector,
		Callback: func(event interface{}) {
			h.eventsMu.Lock()
			defer h.eventsMu.Unlock()
			h.events = append(h.events, event)
		},
	})
	return h
}

// start 启动会话并断言成功
func (h *testHelper) start(stopOnEntry bool) {
	_, err := h.debug.Start(context.Background(), &debugger.StartOption{File: h.file, StopOnEntry: stopOnEntry})
	assert.Nil(h.t, err)
}

// pausedAt 让主线程停在 file:line
func (h *testHelper) pausedAt(line int, function string) {
	h.adapter.stopAt(1, "breakpoint", frame(100+line, function, h.file, line), frame(1, "<module>", h.file, 1))
}

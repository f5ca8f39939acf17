// Package adapter talks to a debug adapter over the Debug Adapter Protocol.
//
// Messages are framed and decoded with github.com/google/go-dap. The Client
// matches responses to requests by sequence number and delivers events, in
// the order the adapter emitted them, to a single handler goroutine so that
// handlers may issue further requests without blocking the reader.
package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	e "github.com/fansqz/go-debug-mediator/error"
	"github.com/fansqz/go-debug-mediator/utils/gosync"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// EventHandler receives adapter events.
type EventHandler func(event dap.EventMessage)

// Client is a DAP client bound to one adapter connection.
type Client struct {
	conn   io.ReadWriteCloser
	reader *bufio.Reader

	writeMutex sync.Mutex
	seq        int64

	pendingMutex sync.Mutex
	pending      map[int]chan dap.Message

	handlerMutex sync.RWMutex
	handler      EventHandler
	queue        *eventQueue

	capabilities     dap.Capabilities
	initialized      chan struct{}
	initializedOnce  sync.Once
	initializeWithin time.Duration

	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithInitializeTimeout bounds the wait for the adapter's initialized event
// during launch and attach.
func WithInitializeTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.initializeWithin = d
	}
}

// NewClient starts reading from conn. Close releases the connection.
func NewClient(conn io.ReadWriteCloser, opts ...ClientOption) *Client {
	c := &Client{
		conn:             conn,
		reader:           bufio.NewReader(conn),
		pending:          make(map[int]chan dap.Message),
		queue:            newEventQueue(),
		initialized:      make(chan struct{}),
		initializeWithin: 10 * time.Second,
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	gosync.Go(context.Background(), c.receiveLoop)
	gosync.Go(context.Background(), c.dispatchLoop)
	return c
}

// OnEvent sets the event handler. Events received before a handler is set
// are queued and delivered once it is.
func (c *Client) OnEvent(handler EventHandler) {
	c.handlerMutex.Lock()
	c.handler = handler
	c.handlerMutex.Unlock()
	c.queue.wake()
}

// Capabilities returns what the adapter announced in its initialize response.
func (c *Client) Capabilities() dap.Capabilities {
	return c.capabilities
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close shuts the connection down. Pending requests fail with
// ErrDebuggerIsClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		err = c.conn.Close()
		c.failPending()
	})
	return err
}

func (c *Client) receiveLoop(ctx context.Context) {
	for {
		msg, err := dap.ReadProtocolMessage(c.reader)
		if err != nil {
			var fieldErr *dap.DecodeProtocolMessageFieldError
			if errors.As(err, &fieldErr) {
				logrus.Warnf("[Client] skip undecodable message, err = %v", err)
				continue
			}
			if !c.closed.Load() {
				logrus.Warnf("[Client] adapter connection lost, err = %v", err)
				// 连接意外断开，按终止事件处理
				c.queue.push(&dap.TerminatedEvent{Event: newEvent("terminated")})
			}
			c.Close()
			return
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg dap.Message) {
	switch m := msg.(type) {
	case dap.ResponseMessage:
		seq := m.GetResponse().RequestSeq
		c.pendingMutex.Lock()
		ch, ok := c.pending[seq]
		delete(c.pending, seq)
		c.pendingMutex.Unlock()
		if !ok {
			logrus.Warnf("[Client] response for unknown request %d (%s)", seq, m.GetResponse().Command)
			return
		}
		ch <- msg
	case dap.EventMessage:
		if m.GetEvent().Event == "initialized" {
			c.initializedOnce.Do(func() { close(c.initialized) })
		}
		c.queue.push(m)
	case dap.RequestMessage:
		// 反向请求（runInTerminal、startDebugging）不支持
		req := m.GetRequest()
		logrus.Infof("[Client] reject reverse request %s", req.Command)
		resp := &dap.ErrorResponse{Response: newResponse(req.Seq, req.Command, false)}
		resp.Message = "not supported"
		if err := c.write(resp); err != nil {
			logrus.Warnf("[Client] reply to reverse request fail, err = %v", err)
		}
	}
}

func (c *Client) dispatchLoop(ctx context.Context) {
	for {
		c.handlerMutex.RLock()
		handler := c.handler
		c.handlerMutex.RUnlock()
		if handler == nil {
			select {
			case <-c.queue.notify:
				continue
			case <-c.done:
				c.drain()
				return
			}
		}
		event, ok := c.queue.pop()
		if ok {
			c.deliver(handler, event)
			continue
		}
		select {
		case <-c.queue.notify:
		case <-c.done:
			c.drain()
			return
		}
	}
}

// deliver 单个事件的 panic 不能中断后续事件的投递
func (c *Client) deliver(handler EventHandler, event dap.EventMessage) {
	defer func() {
		if err := recover(); err != nil {
			logrus.Errorf("[Client] %s handler panic: %v\n%s", event.GetEvent().Event, err, debug.Stack())
		}
	}()
	handler(event)
}

// drain delivers events queued before the connection closed, including the
// synthesized terminated event.
func (c *Client) drain() {
	c.handlerMutex.RLock()
	handler := c.handler
	c.handlerMutex.RUnlock()
	if handler == nil {
		return
	}
	for {
		event, ok := c.queue.pop()
		if !ok {
			return
		}
		c.deliver(handler, event)
	}
}

func (c *Client) failPending() {
	c.pendingMutex.Lock()
	defer c.pendingMutex.Unlock()
	for seq, ch := range c.pending {
		close(ch)
		delete(c.pending, seq)
	}
}

func (c *Client) write(msg dap.Message) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	return dap.WriteProtocolMessage(c.conn, msg)
}

// send registers req and writes it; the returned channel yields the response.
func (c *Client) send(req dap.RequestMessage) (chan dap.Message, error) {
	if c.closed.Load() {
		return nil, e.ErrDebuggerIsClosed
	}
	r := req.GetRequest()
	r.Seq = int(atomic.AddInt64(&c.seq, 1))
	r.Type = "request"

	ch := make(chan dap.Message, 1)
	c.pendingMutex.Lock()
	c.pending[r.Seq] = ch
	c.pendingMutex.Unlock()

	if err := c.write(req); err != nil {
		c.pendingMutex.Lock()
		delete(c.pending, r.Seq)
		c.pendingMutex.Unlock()
		return nil, fmt.Errorf("%w: write %s: %v", e.ErrDebuggerIsClosed, r.Command, err)
	}
	return ch, nil
}

func (c *Client) wait(ctx context.Context, command string, ch chan dap.Message) (dap.Message, error) {
	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: %s", e.ErrDebuggerIsClosed, command)
		}
		if errResp, isErr := msg.(*dap.ErrorResponse); isErr {
			return nil, responseError(errResp)
		}
		if resp, isResp := msg.(dap.ResponseMessage); isResp && !resp.GetResponse().Success {
			return nil, fmt.Errorf("%w: %s: %s", e.ErrAdapterRequestFailed, command, resp.GetResponse().Message)
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("%w: %s", e.ErrDebuggerIsClosed, command)
	}
}

func (c *Client) call(ctx context.Context, req dap.RequestMessage) (dap.Message, error) {
	ch, err := c.send(req)
	if err != nil {
		return nil, err
	}
	return c.wait(ctx, req.GetRequest().Command, ch)
}

func responseError(resp *dap.ErrorResponse) error {
	detail := resp.Message
	if resp.Body.Error != nil && resp.Body.Error.Format != "" {
		detail = resp.Body.Error.Format
	}
	return fmt.Errorf("%w: %s: %s", e.ErrAdapterRequestFailed, resp.Command, detail)
}

func unexpected(command string, msg dap.Message) error {
	return fmt.Errorf("%w: %s answered with %T", e.ErrUnexpectedResponse, command, msg)
}

// Initialize performs the initialize handshake. Lines and columns are 1-based.
func (c *Client) Initialize(ctx context.Context, adapterID string) (*dap.Capabilities, error) {
	req := &dap.InitializeRequest{Request: newRequest("initialize")}
	req.Arguments = dap.InitializeRequestArguments{
		ClientID:             "go-debug-mediator",
		ClientName:           "Go Debug Mediator",
		AdapterID:            adapterID,
		Locale:               "en-US",
		LinesStartAt1:        true,
		ColumnsStartAt1:      true,
		PathFormat:           "path",
		SupportsVariableType: true,
	}
	msg, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(*dap.InitializeResponse)
	if !ok {
		return nil, unexpected("initialize", msg)
	}
	c.capabilities = resp.Body
	return &resp.Body, nil
}

// Launch sends a launch request and completes the configuration sequence:
// wait for initialized, run configure (breakpoints), configurationDone, then
// wait for the launch response. Some adapters only answer launch after
// configurationDone.
func (c *Client) Launch(ctx context.Context, args map[string]interface{}, configure func(ctx context.Context) error) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal launch arguments: %w", err)
	}
	return c.start(ctx, &dap.LaunchRequest{Request: newRequest("launch"), Arguments: raw}, configure)
}

// Attach is Launch for an already running debuggee.
func (c *Client) Attach(ctx context.Context, args map[string]interface{}, configure func(ctx context.Context) error) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal attach arguments: %w", err)
	}
	return c.start(ctx, &dap.AttachRequest{Request: newRequest("attach"), Arguments: raw}, configure)
}

func (c *Client) start(ctx context.Context, req dap.RequestMessage, configure func(ctx context.Context) error) error {
	command := req.GetRequest().Command
	ch, err := c.send(req)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.initializeWithin)
	defer cancel()
	select {
	case <-c.initialized:
	case msg, ok := <-ch:
		// 启动失败时适配器可能不会发送 initialized
		if !ok {
			return fmt.Errorf("%w: %s", e.ErrDebuggerIsClosed, command)
		}
		ch <- msg
		if resp, isResp := msg.(dap.ResponseMessage); isResp && !resp.GetResponse().Success {
			_, err = c.wait(ctx, command, ch)
			return err
		}
		select {
		case <-c.initialized:
		case <-waitCtx.Done():
			return e.ErrInitializeTimeout
		}
	case <-waitCtx.Done():
		return e.ErrInitializeTimeout
	case <-c.done:
		return fmt.Errorf("%w: %s", e.ErrDebuggerIsClosed, command)
	}

	if configure != nil {
		if err = configure(ctx); err != nil {
			return fmt.Errorf("configure: %w", err)
		}
	}
	if err = c.ConfigurationDone(ctx); err != nil {
		return err
	}
	_, err = c.wait(ctx, command, ch)
	return err
}

// ConfigurationDone ends the configuration phase.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	if !c.capabilities.SupportsConfigurationDoneRequest {
		return nil
	}
	_, err := c.call(ctx, &dap.ConfigurationDoneRequest{Request: newRequest("configurationDone")})
	return err
}

// Threads lists the debuggee threads.
func (c *Client) Threads(ctx context.Context) ([]dap.Thread, error) {
	msg, err := c.call(ctx, &dap.ThreadsRequest{Request: newRequest("threads")})
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(*dap.ThreadsResponse)
	if !ok {
		return nil, unexpected("threads", msg)
	}
	return resp.Body.Threads, nil
}

// StackTrace returns up to levels frames of threadID, innermost first.
func (c *Client) StackTrace(ctx context.Context, threadID int, levels int) ([]dap.StackFrame, error) {
	req := &dap.StackTraceRequest{Request: newRequest("stackTrace")}
	req.Arguments = dap.StackTraceArguments{ThreadId: threadID, Levels: levels}
	msg, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(*dap.StackTraceResponse)
	if !ok {
		return nil, unexpected("stackTrace", msg)
	}
	return resp.Body.StackFrames, nil
}

// Scopes lists the scopes of a frame.
func (c *Client) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	req := &dap.ScopesRequest{Request: newRequest("scopes")}
	req.Arguments = dap.ScopesArguments{FrameId: frameID}
	msg, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(*dap.ScopesResponse)
	if !ok {
		return nil, unexpected("scopes", msg)
	}
	return resp.Body.Scopes, nil
}

// Variables lists the children of a variables reference.
func (c *Client) Variables(ctx context.Context, reference int) ([]dap.Variable, error) {
	req := &dap.VariablesRequest{Request: newRequest("variables")}
	req.Arguments = dap.VariablesArguments{VariablesReference: reference}
	msg, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(*dap.VariablesResponse)
	if !ok {
		return nil, unexpected("variables", msg)
	}
	return resp.Body.Variables, nil
}

// Evaluate evaluates expression in frameID.
func (c *Client) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*dap.EvaluateResponseBody, error) {
	req := &dap.EvaluateRequest{Request: newRequest("evaluate")}
	req.Arguments = dap.EvaluateArguments{Expression: expression, FrameId: frameID, Context: evalContext}
	msg, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(*dap.EvaluateResponse)
	if !ok {
		return nil, unexpected("evaluate", msg)
	}
	return &resp.Body, nil
}

// SetBreakpoints replaces every breakpoint of path.
func (c *Client) SetBreakpoints(ctx context.Context, path string, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	req := &dap.SetBreakpointsRequest{Request: newRequest("setBreakpoints")}
	req.Arguments = dap.SetBreakpointsArguments{
		Source:      dap.Source{Path: path},
		Breakpoints: breakpoints,
	}
	msg, err := c.call(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, ok := msg.(*dap.SetBreakpointsResponse)
	if !ok {
		return nil, unexpected("setBreakpoints", msg)
	}
	return resp.Body.Breakpoints, nil
}

// Continue resumes threadID and reports whether all threads were resumed.
func (c *Client) Continue(ctx context.Context, threadID int) (bool, error) {
	req := &dap.ContinueRequest{Request: newRequest("continue")}
	req.Arguments = dap.ContinueArguments{ThreadId: threadID}
	msg, err := c.call(ctx, req)
	if err != nil {
		return false, err
	}
	resp, ok := msg.(*dap.ContinueResponse)
	if !ok {
		return false, unexpected("continue", msg)
	}
	return resp.Body.AllThreadsContinued, nil
}

// Next steps over the current line.
func (c *Client) Next(ctx context.Context, threadID int) error {
	req := &dap.NextRequest{Request: newRequest("next")}
	req.Arguments = dap.NextArguments{ThreadId: threadID}
	_, err := c.call(ctx, req)
	return err
}

// StepIn steps into the call on the current line.
func (c *Client) StepIn(ctx context.Context, threadID int) error {
	req := &dap.StepInRequest{Request: newRequest("stepIn")}
	req.Arguments = dap.StepInArguments{ThreadId: threadID}
	_, err := c.call(ctx, req)
	return err
}

// StepOut runs until the current function returns.
func (c *Client) StepOut(ctx context.Context, threadID int) error {
	req := &dap.StepOutRequest{Request: newRequest("stepOut")}
	req.Arguments = dap.StepOutArguments{ThreadId: threadID}
	_, err := c.call(ctx, req)
	return err
}

// Pause suspends threadID.
func (c *Client) Pause(ctx context.Context, threadID int) error {
	req := &dap.PauseRequest{Request: newRequest("pause")}
	req.Arguments = dap.PauseArguments{ThreadId: threadID}
	_, err := c.call(ctx, req)
	return err
}

// Terminate asks the debuggee to terminate gracefully, falling back to a
// disconnect when the adapter does not support terminate.
func (c *Client) Terminate(ctx context.Context) error {
	if !c.capabilities.SupportsTerminateRequest {
		return c.Disconnect(ctx, true)
	}
	_, err := c.call(ctx, &dap.TerminateRequest{Request: newRequest("terminate")})
	return err
}

// Disconnect ends the debug session.
func (c *Client) Disconnect(ctx context.Context, terminateDebuggee bool) error {
	req := &dap.DisconnectRequest{Request: newRequest("disconnect")}
	req.Arguments = &dap.DisconnectArguments{TerminateDebuggee: terminateDebuggee}
	_, err := c.call(ctx, req)
	return err
}

func newRequest(command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "request",
		},
		Command: command,
	}
}

func newEvent(event string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

func newResponse(requestSeq int, command string, success bool) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    command,
		RequestSeq: requestSeq,
		Success:    success,
	}
}

// eventQueue is an unbounded FIFO; a bounded channel could fill up while the
// handler waits on a response that only the reader can deliver.
type eventQueue struct {
	mutex  sync.Mutex
	events []dap.EventMessage
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

func (q *eventQueue) push(event dap.EventMessage) {
	q.mutex.Lock()
	q.events = append(q.events, event)
	q.mutex.Unlock()
	q.wake()
}

func (q *eventQueue) pop() (dap.EventMessage, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if len(q.events) == 0 {
		return nil, false
	}
	event := q.events[0]
	q.events[0] = nil
	q.events = q.events[1:]
	return event, true
}

func (q *eventQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

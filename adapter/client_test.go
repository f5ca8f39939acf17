package adapter

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	e "github.com/fansqz/go-debug-mediator/error"
	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
)

// fakeServer 通过 net.Pipe 扮演调试适配器
type fakeServer struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func newTestClient(t *testing.T) (*Client, *fakeServer) {
	clientConn, serverConn := net.Pipe()
	client := NewClient(clientConn, WithInitializeTimeout(2*time.Second))
	server := &fakeServer{t: t, conn: serverConn, reader: bufio.NewReader(serverConn)}
	t.Cleanup(func() {
		client.Close()
		serverConn.Close()
	})
	return client, server
}

// expect 读取下一个请求并检查命令
func (s *fakeServer) expect(command string) dap.Request {
	msg, err := dap.ReadProtocolMessage(s.reader)
	if !assert.Nil(s.t, err) {
		return dap.Request{}
	}
	req, ok := msg.(dap.RequestMessage)
	if !assert.True(s.t, ok, "expected request, got %T", msg) {
		return dap.Request{}
	}
	assert.Equal(s.t, command, req.GetRequest().Command)
	return *req.GetRequest()
}

func (s *fakeServer) send(msg dap.Message) {
	assert.Nil(s.t, dap.WriteProtocolMessage(s.conn, msg))
}

func (s *fakeServer) ack(req dap.Request) {
	s.send(&dap.Response{ProtocolMessage: dap.ProtocolMessage{Type: "response"}, Command: req.Command, RequestSeq: req.Seq, Success: true})
}

func TestClientRoundTrip(t *testing.T) {
	client, server := newTestClient(t)
	go func() {
		req := server.expect("threads")
		server.send(&dap.ThreadsResponse{
			Response: newResponse(req.Seq, "threads", true),
			Body:     dap.ThreadsResponseBody{Threads: []dap.Thread{{Id: 1, Name: "MainThread"}}},
		})
	}()

	threads, err := client.Threads(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, []dap.Thread{{Id: 1, Name: "MainThread"}}, threads)
}

func TestClientErrorResponse(t *testing.T) {
	client, server := newTestClient(t)
	go func() {
		req := server.expect("scopes")
		resp := &dap.ErrorResponse{Response: newResponse(req.Seq, "scopes", false)}
		resp.Message = "failed"
		resp.Body.Error = &dap.ErrorMessage{Format: "Invalid frame id 9999"}
		server.send(resp)
	}()

	_, err := client.Scopes(context.Background(), 9999)
	assert.True(t, errors.Is(err, e.ErrAdapterRequestFailed))
	assert.Contains(t, err.Error(), "Invalid frame id 9999")
}

// TestClientLaunchSequence launch 之后等待 initialized，配置完成后才等待 launch 的回复
func TestClientLaunchSequence(t *testing.T) {
	client, server := newTestClient(t)
	var order []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		req := server.expect("initialize")
		server.send(&dap.InitializeResponse{
			Response: newResponse(req.Seq, "initialize", true),
			Body:     dap.Capabilities{SupportsConfigurationDoneRequest: true, SupportsTerminateRequest: true},
		})

		launch := server.expect("launch")
		order = append(order, "launch")
		server.send(&dap.InitializedEvent{Event: newEvent("initialized")})

		req = server.expect("setBreakpoints")
		order = append(order, "setBreakpoints")
		server.send(&dap.SetBreakpointsResponse{
			Response: newResponse(req.Seq, "setBreakpoints", true),
			Body:     dap.SetBreakpointsResponseBody{Breakpoints: []dap.Breakpoint{{Id: 1, Verified: true, Line: 3}}},
		})

		req = server.expect("configurationDone")
		order = append(order, "configurationDone")
		server.ack(req)
		server.ack(launch)
	}()

	caps, err := client.Initialize(context.Background(), "python")
	assert.Nil(t, err)
	assert.True(t, caps.SupportsTerminateRequest)

	err = client.Launch(context.Background(), map[string]interface{}{"program": "/src/app.py"}, func(ctx context.Context) error {
		bps, err := client.SetBreakpoints(ctx, "/src/app.py", []dap.SourceBreakpoint{{Line: 3}})
		assert.Nil(t, err)
		assert.True(t, bps[0].Verified)
		return nil
	})
	assert.Nil(t, err)
	<-done
	assert.Equal(t, []string{"launch", "setBreakpoints", "configurationDone"}, order)
}

// TestClientLaunchFailure 适配器直接拒绝 launch 时不等待 initialized
func TestClientLaunchFailure(t *testing.T) {
	client, server := newTestClient(t)
	go func() {
		req := server.expect("launch")
		resp := &dap.ErrorResponse{Response: newResponse(req.Seq, "launch", false)}
		resp.Message = "program not found"
		server.send(resp)
	}()

	err := client.Launch(context.Background(), map[string]interface{}{}, nil)
	assert.True(t, errors.Is(err, e.ErrAdapterRequestFailed))
	assert.Contains(t, err.Error(), "program not found")
}

func TestClientEventOrder(t *testing.T) {
	client, server := newTestClient(t)
	events := make(chan string, 10)
	client.OnEvent(func(event dap.EventMessage) {
		events <- event.GetEvent().Event
	})

	server.send(&dap.StoppedEvent{Event: newEvent("stopped"), Body: dap.StoppedEventBody{Reason: "breakpoint", ThreadId: 1}})
	server.send(&dap.ContinuedEvent{Event: newEvent("continued"), Body: dap.ContinuedEventBody{ThreadId: 1}})
	server.send(&dap.OutputEvent{Event: newEvent("output"), Body: dap.OutputEventBody{Category: "stdout", Output: "hi\n"}})

	for _, want := range []string{"stopped", "continued", "output"} {
		select {
		case got := <-events:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

// TestClientHandlerPanic 处理函数 panic 后仍然继续投递后续事件
func TestClientHandlerPanic(t *testing.T) {
	client, server := newTestClient(t)
	events := make(chan string, 10)
	client.OnEvent(func(event dap.EventMessage) {
		if _, ok := event.(*dap.StoppedEvent); ok {
			panic("handler failed")
		}
		events <- event.GetEvent().Event
	})

	server.send(&dap.StoppedEvent{Event: newEvent("stopped"), Body: dap.StoppedEventBody{Reason: "breakpoint", ThreadId: 1}})
	server.send(&dap.ContinuedEvent{Event: newEvent("continued"), Body: dap.ContinuedEventBody{ThreadId: 1}})
	server.conn.Close()

	for _, want := range []string{"continued", "terminated"} {
		select {
		case got := <-events:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

// TestClientHandlerMayCallAdapter 事件处理函数中可以继续发送请求
func TestClientHandlerMayCallAdapter(t *testing.T) {
	client, server := newTestClient(t)
	result := make(chan []dap.StackFrame, 1)
	client.OnEvent(func(event dap.EventMessage) {
		if _, ok := event.(*dap.StoppedEvent); !ok {
			return
		}
		frames, err := client.StackTrace(context.Background(), 1, 20)
		assert.Nil(t, err)
		result <- frames
	})

	server.send(&dap.StoppedEvent{Event: newEvent("stopped"), Body: dap.StoppedEventBody{Reason: "step", ThreadId: 1}})
	req := server.expect("stackTrace")
	server.send(&dap.StackTraceResponse{
		Response: newResponse(req.Seq, "stackTrace", true),
		Body:     dap.StackTraceResponseBody{StackFrames: []dap.StackFrame{{Id: 5, Name: "main", Line: 3}}},
	})

	select {
	case frames := <-result:
		assert.Equal(t, 3, frames[0].Line)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stack trace")
	}
}

// TestClientConnectionLoss 连接断开时合成 terminated 事件
func TestClientConnectionLoss(t *testing.T) {
	client, server := newTestClient(t)
	events := make(chan dap.EventMessage, 1)
	client.OnEvent(func(event dap.EventMessage) {
		events <- event
	})

	server.conn.Close()
	select {
	case event := <-events:
		_, ok := event.(*dap.TerminatedEvent)
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminated")
	}
	<-client.Done()

	_, err := client.Threads(context.Background())
	assert.True(t, errors.Is(err, e.ErrDebuggerIsClosed))
}

func TestClientCloseFailsPending(t *testing.T) {
	client, server := newTestClient(t)
	errCh := make(chan error, 1)
	go func() {
		_, err := client.Threads(context.Background())
		errCh <- err
	}()
	server.expect("threads")
	client.Close()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, e.ErrDebuggerIsClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("pending request was not released")
	}
}

func TestClientRejectsReverseRequest(t *testing.T) {
	_, server := newTestClient(t)
	server.send(&dap.RunInTerminalRequest{
		Request: dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: 7, Type: "request"}, Command: "runInTerminal"},
	})

	msg, err := dap.ReadProtocolMessage(server.reader)
	assert.Nil(t, err)
	resp, ok := msg.(*dap.ErrorResponse)
	if assert.True(t, ok, "got %T", msg) {
		assert.False(t, resp.Success)
		assert.Equal(t, 7, resp.RequestSeq)
	}
}

// TestTerminateFallsBackToDisconnect 不支持 terminate 时发送 disconnect
func TestTerminateFallsBackToDisconnect(t *testing.T) {
	client, server := newTestClient(t)
	go func() {
		req := server.expect("disconnect")
		server.ack(req)
	}()
	assert.Nil(t, client.Terminate(context.Background()))
}

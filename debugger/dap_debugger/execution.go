package dap_debugger

import (
	"context"

	"github.com/fansqz/go-debug-mediator/constants"
	"github.com/fansqz/go-debug-mediator/debugger"
	e "github.com/fansqz/go-debug-mediator/error"
	"github.com/sirupsen/logrus"
)

// executeFunc 向适配器发送执行控制请求
type executeFunc func(ctx context.Context, a Adapter, threadID int) error

func (d *DAPDebugger) Continue(ctx context.Context) (*debugger.ExecutionResult, error) {
	logrus.Infof("[DAPDebugger] Continue")
	return d.execute(ctx, "continue", true, func(ctx context.Context, a Adapter, threadID int) error {
		_, err := a.Continue(ctx, threadID)
		return err
	})
}

func (d *DAPDebugger) StepOver(ctx context.Context) (*debugger.ExecutionResult, error) {
	logrus.Infof("[DAPDebugger] StepOver")
	return d.execute(ctx, string(constants.StepOver), true, func(ctx context.Context, a Adapter, threadID int) error {
		return a.Next(ctx, threadID)
	})
}

func (d *DAPDebugger) StepInto(ctx context.Context) (*debugger.ExecutionResult, error) {
	logrus.Infof("[DAPDebugger] StepInto")
	return d.execute(ctx, string(constants.StepIn), true, func(ctx context.Context, a Adapter, threadID int) error {
		return a.StepIn(ctx, threadID)
	})
}

func (d *DAPDebugger) StepOut(ctx context.Context) (*debugger.ExecutionResult, error) {
	logrus.Infof("[DAPDebugger] StepOut")
	return d.execute(ctx, string(constants.StepOut), true, func(ctx context.Context, a Adapter, threadID int) error {
		return a.StepOut(ctx, threadID)
	})
}

// Pause 要求程序没有暂停
func (d *DAPDebugger) Pause(ctx context.Context) (*debugger.ExecutionResult, error) {
	logrus.Infof("[DAPDebugger] Pause")
	return d.execute(ctx, "pause", false, func(ctx context.Context, a Adapter, threadID int) error {
		return a.Pause(ctx, threadID)
	})
}

// execute 检查前置条件，发送请求，等待适配器稳定后刷新状态
// 返回操作前的位置和刷新后的快照，由调用方比较位置是否变化
func (d *DAPDebugger) execute(ctx context.Context, name string, requirePaused bool, fun executeFunc) (*debugger.ExecutionResult, error) {
	a, err := d.activeAdapter()
	if err != nil {
		return nil, err
	}
	snapshot := d.state.Snapshot()
	if requirePaused && !snapshot.IsPaused {
		hint := constants.HintWaitOrPause
		if snapshot.IsInEventLoop {
			hint = constants.HintEventLoop
		}
		return nil, e.NewPreconditionError(e.ErrNotPaused, hint, false)
	}
	if !requirePaused && snapshot.IsPaused {
		return nil, e.NewPreconditionError(e.ErrAlreadyPaused, constants.HintResume, true)
	}

	threadID := d.targetThread(ctx, a, snapshot)
	if err = fun(ctx, a, threadID); err != nil {
		logrus.Errorf("[DAPDebugger] %s fail, err = %v", name, err)
		return nil, d.adapterError(err)
	}

	d.settle(ctx, d.cfg.Timing.StepSettle)
	d.state.Refresh(ctx)
	d.notifyState(name)
	return &debugger.ExecutionResult{
		Previous: snapshot.Position(),
		Snapshot: d.state.Snapshot(),
	}, nil
}

// targetThread 执行控制作用的线程：暂停的线程，其次主线程，最后适配器返回的第一个线程
func (d *DAPDebugger) targetThread(ctx context.Context, a Adapter, snapshot *debugger.Snapshot) int {
	if snapshot.PausedThreadID != 0 {
		return snapshot.PausedThreadID
	}
	if id, ok := d.state.Threads().MainThreadID(); ok {
		return id
	}
	threads, err := a.Threads(ctx)
	if err != nil || len(threads) == 0 {
		return 0
	}
	return threads[0].Id
}

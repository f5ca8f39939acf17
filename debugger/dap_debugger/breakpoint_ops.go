package dap_debugger

import (
	"context"

	"github.com/fansqz/go-debug-mediator/debugger"
	"github.com/fansqz/go-debug-mediator/utils"
	"github.com/sirupsen/logrus"
)

// sessionAdapter 有活动会话时返回适配器，否则返回 nil，断点操作只修改声明
func (d *DAPDebugger) sessionAdapter() Adapter {
	if !d.statusManager.Is(utils.Active) {
		return nil
	}
	a, err := d.state.Adapter()
	if err != nil {
		return nil
	}
	return a
}

func (d *DAPDebugger) SetBreakpoint(ctx context.Context, file string, line int, condition string) (*debugger.Breakpoint, error) {
	logrus.Infof("[DAPDebugger] SetBreakpoint %s:%d", file, line)
	a := d.sessionAdapter()
	bp, err := d.breakpoints.Set(ctx, a, file, line, condition)
	if err != nil {
		return nil, d.adapterError(err)
	}
	if a == nil {
		return bp, nil
	}
	// 部分适配器通过 breakpoint 事件异步验证
	d.settle(ctx, d.cfg.Timing.BreakpointSettle)
	if current := d.breakpoints.get(bp.File, bp.Line); current != nil {
		bp = current
	}
	return bp, nil
}

func (d *DAPDebugger) RemoveBreakpoint(ctx context.Context, file string, line int) error {
	logrus.Infof("[DAPDebugger] RemoveBreakpoint %s:%d", file, line)
	if err := d.breakpoints.Remove(ctx, d.sessionAdapter(), file, line); err != nil {
		return d.adapterError(err)
	}
	return nil
}

func (d *DAPDebugger) SetBreakpointEnabled(ctx context.Context, file string, line int, enabled bool) (*debugger.Breakpoint, error) {
	logrus.Infof("[DAPDebugger] SetBreakpointEnabled %s:%d %v", file, line, enabled)
	bp, err := d.breakpoints.SetEnabled(ctx, d.sessionAdapter(), file, line, enabled)
	if err != nil {
		return nil, d.adapterError(err)
	}
	return bp, nil
}

// ListBreakpoints 有会话时以适配器为准
func (d *DAPDebugger) ListBreakpoints(ctx context.Context) ([]*debugger.Breakpoint, error) {
	return d.breakpoints.List(ctx, d.sessionAdapter()), nil
}

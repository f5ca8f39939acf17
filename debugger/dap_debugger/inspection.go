package dap_debugger

import (
	"context"
	"strings"

	"github.com/fansqz/go-debug-mediator/constants"
	"github.com/fansqz/go-debug-mediator/debugger"
	e "github.com/fansqz/go-debug-mediator/error"
	"github.com/sirupsen/logrus"
)

// pausedAdapter 检查类操作要求程序处于暂停状态
func (d *DAPDebugger) pausedAdapter() (Adapter, *debugger.Snapshot, error) {
	a, err := d.activeAdapter()
	if err != nil {
		return nil, nil, err
	}
	snapshot := d.state.Snapshot()
	if !snapshot.IsPaused {
		hint := constants.HintWaitOrPause
		if snapshot.IsInEventLoop {
			hint = constants.HintEventLoop
		}
		return nil, nil, e.NewPreconditionError(e.ErrNotPaused, hint, false)
	}
	return a, snapshot, nil
}

// GetStackTrace 优先返回缓存的栈帧，没有缓存时向适配器请求
func (d *DAPDebugger) GetStackTrace(ctx context.Context) ([]*debugger.StackFrame, error) {
	a, snapshot, err := d.pausedAdapter()
	if err != nil {
		return nil, err
	}
	if len(snapshot.StackFrames) != 0 {
		return snapshot.StackFrames, nil
	}
	threadID := d.targetThread(ctx, a, snapshot)
	frames, err := a.StackTrace(ctx, threadID, d.cfg.Session.StackDepth)
	if err != nil {
		logrus.Errorf("[DAPDebugger] stackTrace fail, err = %v", err)
		return nil, d.adapterError(err)
	}
	answer := convertFrames(frames)
	d.state.CacheFrames(threadID, answer)
	return answer, nil
}

// GetVariables 获取栈帧的变量，frameId 不做本地校验，无效时由适配器报错
func (d *DAPDebugger) GetVariables(ctx context.Context, query *debugger.VariablesQuery) ([]*debugger.Variable, error) {
	a, _, err := d.pausedAdapter()
	if err != nil {
		return nil, err
	}
	frameID, err := d.resolveFrame(ctx, query.FrameID)
	if err != nil {
		return nil, err
	}

	scopes, err := a.Scopes(ctx, frameID)
	if err != nil {
		logrus.Errorf("[DAPDebugger] scopes of frame %d fail, err = %v", frameID, err)
		return nil, d.wrapFrameError(err)
	}
	filter := strings.ToLower(query.ScopeFilter)
	answer := make([]*debugger.Variable, 0)
	for _, scope := range scopes {
		if filter != "" && !strings.Contains(strings.ToLower(scope.Name), filter) {
			continue
		}
		variables, err := a.Variables(ctx, scope.VariablesReference)
		if err != nil {
			logrus.Errorf("[DAPDebugger] variables of scope %s fail, err = %v", scope.Name, err)
			return nil, d.adapterError(err)
		}
		for _, v := range variables {
			answer = append(answer, &debugger.Variable{
				Name:      v.Name,
				Type:      v.Type,
				Value:     v.Value,
				Scope:     scope.Name,
				Reference: v.VariablesReference,
			})
		}
	}
	return answer, nil
}

// Evaluate 默认使用 watch 上下文
func (d *DAPDebugger) Evaluate(ctx context.Context, query *debugger.EvaluateQuery) (*debugger.EvaluateResult, error) {
	a, _, err := d.pausedAdapter()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query.Expression) == "" {
		return nil, e.NewInvalidError(e.ErrInvalidArgument, "expression is required")
	}
	frameID, err := d.resolveFrame(ctx, query.FrameID)
	if err != nil {
		return nil, err
	}
	evalContext := query.Context
	if evalContext == "" {
		evalContext = constants.EvaluateWatch
	}
	body, err := a.Evaluate(ctx, query.Expression, frameID, string(evalContext))
	if err != nil {
		logrus.Infof("[DAPDebugger] evaluate %q fail, err = %v", query.Expression, err)
		return nil, d.wrapFrameError(err)
	}
	return &debugger.EvaluateResult{
		Result:    body.Result,
		Type:      body.Type,
		Reference: body.VariablesReference,
	}, nil
}

// GetThreads 只要求会话存在，运行中也可以查询
func (d *DAPDebugger) GetThreads(ctx context.Context) ([]*debugger.Thread, error) {
	a, err := d.activeAdapter()
	if err != nil {
		return nil, err
	}
	threads, err := a.Threads(ctx)
	if err != nil {
		logrus.Errorf("[DAPDebugger] threads fail, err = %v", err)
		return nil, d.adapterError(err)
	}
	d.state.applyThreads(threads)
	return d.state.Threads().Threads(), nil
}

// resolveFrame frameID 为空时使用栈顶
func (d *DAPDebugger) resolveFrame(ctx context.Context, frameID *int) (int, error) {
	if frameID != nil {
		return *frameID, nil
	}
	frames, err := d.GetStackTrace(ctx)
	if err != nil {
		return 0, err
	}
	if len(frames) == 0 {
		return 0, e.NewPreconditionError(e.ErrNoStackFrames, constants.HintStackTrace, true)
	}
	return frames[0].ID, nil
}

// wrapFrameError 适配器拒绝请求时提示调用方重新获取帧id
func (d *DAPDebugger) wrapFrameError(err error) error {
	return &e.HintError{Kind: e.KindAdapter, Err: err, Hint: constants.HintStackTrace, IsPaused: d.currentPaused()}
}

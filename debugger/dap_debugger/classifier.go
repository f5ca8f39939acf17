package dap_debugger

import (
	"context"
	"strconv"
	"strings"

	"github.com/fansqz/go-debug-mediator/constants"
	"github.com/fansqz/go-debug-mediator/debugger"
	"github.com/sirupsen/logrus"
)

// BreakpointIndex 断点邻近查询，允许略微过期
type BreakpointIndex interface {
	NearBreakpoint(file string, line int, window int) bool
}

// Classification 一次分类的各项信号
type Classification struct {
	InEventLoop bool
	// ProbeAvailable 运行时是否提供任务数探针
	ProbeAvailable bool
	TaskCount      int
	LocationMatch  bool
	NearBreakpoint bool
}

// PauseClassifier 判断一次暂停是否只是停在了框架的事件循环里
// 三个信号同时满足才判定为假暂停：
//  1. 有多个并发任务
//  2. 位置看起来是事件循环代码
//  3. 附近没有用户断点
//
// 任何一步无法得到结论时都按真实暂停处理
type PauseClassifier struct {
	policies             *PolicyRegistry
	breakpoints          BreakpointIndex
	window               int
	fallbackWithoutProbe bool
}

func NewPauseClassifier(policies *PolicyRegistry, breakpoints BreakpointIndex, window int, fallbackWithoutProbe bool) *PauseClassifier {
	return &PauseClassifier{
		policies:             policies,
		breakpoints:          breakpoints,
		window:               window,
		fallbackWithoutProbe: fallbackWithoutProbe,
	}
}

// Classify 对栈顶帧做分类
func (c *PauseClassifier) Classify(ctx context.Context, evaluator Evaluator, t constants.AdapterType, frame *debugger.StackFrame) *Classification {
	answer := &Classification{}
	if frame == nil || evaluator == nil {
		return answer
	}
	policy := c.policies.Get(t)

	probe := policy.ProbeExpression()
	if probe == "" {
		if !c.fallbackWithoutProbe {
			return answer
		}
	} else {
		answer.ProbeAvailable = true
		body, err := evaluator.Evaluate(ctx, probe, frame.ID, string(constants.EvaluateWatch))
		if err != nil {
			logrus.Debugf("[PauseClassifier] probe failed, treat as genuine pause, err = %v", err)
			return answer
		}
		count, err := strconv.Atoi(strings.TrimSpace(body.Result))
		if err != nil {
			logrus.Debugf("[PauseClassifier] probe result %q is not a number", body.Result)
			return answer
		}
		answer.TaskCount = count
		if count <= 1 {
			return answer
		}
	}

	answer.LocationMatch = policy.MatchesLocation(frame.Path, frame.Name)
	if c.breakpoints != nil {
		answer.NearBreakpoint = c.breakpoints.NearBreakpoint(frame.Path, frame.Line, c.window)
	}
	answer.InEventLoop = answer.LocationMatch && !answer.NearBreakpoint
	if answer.InEventLoop {
		logrus.Infof("[PauseClassifier] %s:%d (%s) classified as event loop", frame.Path, frame.Line, frame.Name)
	}
	return answer
}

package dap_debugger

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/fansqz/go-debug-mediator/config"
	"github.com/fansqz/go-debug-mediator/constants"
)

// EventLoopPolicy decides, for one runtime, whether a stop location looks
// like a framework event loop. Policies are registered per adapter type so
// the fragment lists can grow without touching the classifier.
type EventLoopPolicy interface {
	// ProbeExpression returns an expression that evaluates to the number of
	// concurrently scheduled tasks, or "" when the runtime has no such probe.
	ProbeExpression() string
	// MatchesLocation reports whether file or function names framework
	// event-loop code.
	MatchesLocation(file string, function string) bool
}

// HeuristicPolicy matches path fragments (case-insensitive, slash
// separated) and function-name fragments (case-insensitive substring).
type HeuristicPolicy struct {
	Probe             string
	PathFragments     []string
	FunctionFragments []string
}

func (p *HeuristicPolicy) ProbeExpression() string {
	return p.Probe
}

func (p *HeuristicPolicy) MatchesLocation(file string, function string) bool {
	normalized := strings.ToLower(filepath.ToSlash(file))
	for _, fragment := range p.PathFragments {
		if fragment != "" && strings.Contains(normalized, strings.ToLower(fragment)) {
			return true
		}
	}
	fn := strings.ToLower(function)
	for _, fragment := range p.FunctionFragments {
		if fragment != "" && strings.Contains(fn, strings.ToLower(fragment)) {
			return true
		}
	}
	return false
}

// extend returns a copy with cfg's fragments appended and its probe applied.
func (p *HeuristicPolicy) extend(cfg config.PolicyConfig) *HeuristicPolicy {
	c := &HeuristicPolicy{
		Probe:             p.Probe,
		PathFragments:     append(append([]string{}, p.PathFragments...), cfg.Paths...),
		FunctionFragments: append(append([]string{}, p.FunctionFragments...), cfg.Functions...),
	}
	if cfg.Probe != "" {
		c.Probe = cfg.Probe
	}
	return c
}

// commonFunctionFragments 各运行时通用的事件循环函数名片段
var commonFunctionFragments = []string{
	"event_loop", "eventloop", "run_forever", "serve_forever", "mainloop",
	"listen", "serve", "accept", "wait", "poll", "select",
}

func defaultPolicies() map[constants.AdapterType]*HeuristicPolicy {
	return map[constants.AdapterType]*HeuristicPolicy{
		constants.AdapterPython: {
			Probe: "len(__import__('asyncio').all_tasks())",
			PathFragments: []string{
				"/asyncio/", "/selectors.py", "/socketserver.py", "/threading.py",
				"site-packages/uvicorn/", "site-packages/starlette/", "site-packages/fastapi/",
				"site-packages/werkzeug/", "site-packages/flask/", "site-packages/aiohttp/",
				"site-packages/tornado/", "site-packages/gunicorn/", "site-packages/django/core/servers/",
				"site-packages/anyio/", "site-packages/uvloop/",
			},
			FunctionFragments: append([]string{"_run_once", "run_until_complete"}, commonFunctionFragments...),
		},
		constants.AdapterNode: {
			PathFragments: []string{
				"node:internal/", "/node_modules/express/", "/node_modules/fastify/",
				"/node_modules/koa/", "internal/timers", "internal/process/task_queues",
			},
			FunctionFragments: append([]string{"processTicksAndRejections", "processImmediate", "listOnTimeout"}, commonFunctionFragments...),
		},
		constants.AdapterGo: {
			PathFragments: []string{
				"/src/runtime/", "/src/net/http/server.go", "/src/internal/poll/", "/src/net/fd_",
			},
			FunctionFragments: append([]string{"gopark", "netpoll", "runtime.selectgo"}, commonFunctionFragments...),
		},
		constants.AdapterLLDB: {
			PathFragments:     []string{"/libuv/", "/boost/asio/", "/tokio/", "/mio/"},
			FunctionFragments: append([]string{"epoll_wait", "kevent", "uv_run"}, commonFunctionFragments...),
		},
	}
}

// PolicyRegistry maps adapter types to policies. Unknown types get a
// probe-less policy with the common function fragments.
type PolicyRegistry struct {
	mutex    sync.RWMutex
	policies map[constants.AdapterType]EventLoopPolicy
	fallback EventLoopPolicy
}

// NewPolicyRegistry builds the built-in policies, extended by cfg.
func NewPolicyRegistry(cfg map[string]config.PolicyConfig) *PolicyRegistry {
	r := &PolicyRegistry{
		policies: map[constants.AdapterType]EventLoopPolicy{},
		fallback: &HeuristicPolicy{FunctionFragments: commonFunctionFragments},
	}
	defaults := defaultPolicies()
	for t, p := range defaults {
		r.policies[t] = p
	}
	for name, pc := range cfg {
		t := constants.AdapterType(name)
		base, ok := defaults[t]
		if !ok {
			base = &HeuristicPolicy{FunctionFragments: commonFunctionFragments}
		}
		r.policies[t] = base.extend(pc)
	}
	return r
}

// Register replaces the policy of t.
func (r *PolicyRegistry) Register(t constants.AdapterType, policy EventLoopPolicy) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.policies[t] = policy
}

// Get returns the policy of t.
func (r *PolicyRegistry) Get(t constants.AdapterType) EventLoopPolicy {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if p, ok := r.policies[t]; ok {
		return p
	}
	return r.fallback
}

package dap_debugger

import (
	"sort"
	"strings"
	"sync"

	"github.com/fansqz/go-debug-mediator/constants"
	"github.com/fansqz/go-debug-mediator/debugger"
	"github.com/fansqz/go-debug-mediator/utils"
)

// mainThreadNames 主线程的常见命名
var mainThreadNames = utils.List2set([]string{"mainthread", "main thread", "main"})

// ThreadRegistry 记录已知线程及其暂停状态，不做任何IO
type ThreadRegistry struct {
	mutex   sync.RWMutex
	threads map[int]*debugger.Thread
	// mainID 第一个出现的线程，或名称符合主线程约定的线程
	mainID      int
	hasMain     bool
	mainByName  bool
	insertOrder []int
}

func NewThreadRegistry() *ThreadRegistry {
	return &ThreadRegistry{threads: map[int]*debugger.Thread{}}
}

func isMainThreadName(name string) bool {
	return utils.ContainsAny(mainThreadNames, strings.ToLower(strings.TrimSpace(name)))
}

// upsert 未加锁
func (r *ThreadRegistry) upsert(id int, name string) *debugger.Thread {
	t, ok := r.threads[id]
	if !ok {
		t = &debugger.Thread{ID: id}
		r.threads[id] = t
		r.insertOrder = append(r.insertOrder, id)
		if !r.hasMain {
			r.mainID, r.hasMain = id, true
		}
	}
	if name != "" {
		t.Name = name
		if !r.mainByName && isMainThreadName(name) {
			r.mainID, r.hasMain, r.mainByName = id, true, true
		}
	}
	return t
}

// UpsertThread 新增线程或更新线程名
func (r *ThreadRegistry) UpsertThread(id int, name string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.upsert(id, name)
}

// MarkStopped 标记线程暂停，未知线程会先创建
func (r *ThreadRegistry) MarkStopped(id int, reason constants.StoppedReasonType) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	t := r.upsert(id, "")
	t.Stopped = true
	t.StopReason = reason
}

// MarkContinued 标记线程继续运行，未知线程会先创建
func (r *ThreadRegistry) MarkContinued(id int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	t := r.upsert(id, "")
	t.Stopped = false
}

// MarkAllStopped allThreadsStopped 为 true 的 stopped 事件
func (r *ThreadRegistry) MarkAllStopped(reason constants.StoppedReasonType) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, t := range r.threads {
		t.Stopped = true
		t.StopReason = reason
	}
}

// MarkAllContinued 所有线程继续运行
func (r *ThreadRegistry) MarkAllContinued() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, t := range r.threads {
		t.Stopped = false
	}
}

// RemoveThread 线程退出
func (r *ThreadRegistry) RemoveThread(id int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.threads[id]; !ok {
		return
	}
	delete(r.threads, id)
	for i, tid := range r.insertOrder {
		if tid == id {
			r.insertOrder = append(r.insertOrder[:i], r.insertOrder[i+1:]...)
			break
		}
	}
	if r.hasMain && r.mainID == id {
		r.hasMain, r.mainByName = false, false
		if len(r.insertOrder) > 0 {
			r.mainID, r.hasMain = r.insertOrder[0], true
		}
	}
}

// Sync 以适配器返回的线程列表为准，删除已经不存在的线程
func (r *ThreadRegistry) Sync(ids []int, names []string) {
	r.mutex.Lock()
	alive := make(map[int]bool, len(ids))
	for i, id := range ids {
		alive[id] = true
		r.upsert(id, names[i])
	}
	var gone []int
	for id := range r.threads {
		if !alive[id] {
			gone = append(gone, id)
		}
	}
	r.mutex.Unlock()
	for _, id := range gone {
		r.RemoveThread(id)
	}
}

// FindStoppedThread 优先返回主线程
// 有多个非主线程暂停时返回哪一个是不确定的，调用方不能依赖其顺序
func (r *ThreadRegistry) FindStoppedThread() (*debugger.Thread, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if r.hasMain {
		if t, ok := r.threads[r.mainID]; ok && t.Stopped {
			return r.copyOf(t), true
		}
	}
	for _, t := range r.threads {
		if t.Stopped {
			return r.copyOf(t), true
		}
	}
	return nil, false
}

// StoppedThreadIDs 所有暂停的线程，按id排序
func (r *ThreadRegistry) StoppedThreadIDs() []int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	var ids []int
	for id, t := range r.threads {
		if t.Stopped {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// MainThreadID 主线程id
func (r *ThreadRegistry) MainThreadID() (int, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.mainID, r.hasMain
}

// Get 查询线程
func (r *ThreadRegistry) Get(id int) (*debugger.Thread, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	t, ok := r.threads[id]
	if !ok {
		return nil, false
	}
	return r.copyOf(t), true
}

// Threads 按首次出现的顺序返回所有线程
func (r *ThreadRegistry) Threads() []*debugger.Thread {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	answer := make([]*debugger.Thread, 0, len(r.insertOrder))
	for _, id := range r.insertOrder {
		answer = append(answer, r.copyOf(r.threads[id]))
	}
	return answer
}

// Reset 清空
func (r *ThreadRegistry) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.threads = map[int]*debugger.Thread{}
	r.insertOrder = nil
	r.mainID, r.hasMain, r.mainByName = 0, false, false
}

func (r *ThreadRegistry) copyOf(t *debugger.Thread) *debugger.Thread {
	c := *t
	c.IsMain = r.hasMain && r.mainID == t.ID
	return &c
}

package dap_debugger

import (
	"context"
	"path/filepath"
	"sort"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/fansqz/go-debug-mediator/constants"
	"github.com/fansqz/go-debug-mediator/debugger"
	e "github.com/fansqz/go-debug-mediator/error"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// BreakpointStore 断点声明的持久化
type BreakpointStore interface {
	Load() ([]*debugger.Breakpoint, error)
	Save(breakpoints []*debugger.Breakpoint) error
}

// breakpointRecord 声明的断点以及适配器返回的验证信息
type breakpointRecord struct {
	bp        debugger.Breakpoint
	adapterID int
}

// BreakpointManager 维护断点声明，并把它们按文件同步给适配器
// setBreakpoints 会替换整个文件的断点，所以每次都发送该文件所有已启用的断点
type BreakpointManager struct {
	mutex sync.RWMutex
	files map[string][]*breakpointRecord
	// lines 每个文件已启用断点的行号，用于邻近查询
	lines map[string]*treemap.Map
	store BreakpointStore
}

func NewBreakpointManager(store BreakpointStore) *BreakpointManager {
	m := &BreakpointManager{
		files: map[string][]*breakpointRecord{},
		lines: map[string]*treemap.Map{},
		store: store,
	}
	if store == nil {
		return m
	}
	bps, err := store.Load()
	if err != nil {
		logrus.Warnf("[BreakpointManager] load breakpoints fail, err = %v", err)
		return m
	}
	for _, bp := range bps {
		if !filepath.IsAbs(bp.File) || bp.Line < 1 {
			continue
		}
		record := &breakpointRecord{bp: *bp}
		record.bp.File = filepath.Clean(bp.File)
		record.bp.Verified = false
		record.bp.Message = ""
		m.files[record.bp.File] = append(m.files[record.bp.File], record)
	}
	for file := range m.files {
		m.reindex(file)
	}
	logrus.Infof("[BreakpointManager] loaded %d breakpoints", len(bps))
	return m
}

func normalizeLocation(file string, line int) (string, error) {
	if file == "" || !filepath.IsAbs(file) {
		return "", e.NewInvalidError(e.ErrInvalidArgument, "file must be an absolute path")
	}
	if line < 1 {
		return "", e.NewInvalidError(e.ErrInvalidArgument, "line numbers start at 1")
	}
	return filepath.Clean(file), nil
}

// reindex 未加锁
func (m *BreakpointManager) reindex(file string) {
	index := treemap.NewWithIntComparator()
	for _, r := range m.files[file] {
		if r.bp.Enabled {
			index.Put(r.bp.Line, struct{}{})
		}
	}
	if index.Empty() {
		delete(m.lines, file)
	} else {
		m.lines[file] = index
	}
	if len(m.files[file]) == 0 {
		delete(m.files, file)
	}
}

// find 未加锁
func (m *BreakpointManager) find(file string, line int) (int, *breakpointRecord) {
	for i, r := range m.files[file] {
		if r.bp.Line == line {
			return i, r
		}
	}
	return -1, nil
}

// snapshotFile 未加锁，返回文件中所有记录的拷贝，用于失败回滚
func (m *BreakpointManager) snapshotFile(file string) []*breakpointRecord {
	records := m.files[file]
	if records == nil {
		return nil
	}
	answer := make([]*breakpointRecord, 0, len(records))
	for _, r := range records {
		c := *r
		answer = append(answer, &c)
	}
	return answer
}

func (m *BreakpointManager) restoreFile(file string, records []*breakpointRecord) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.files[file] = records
	m.reindex(file)
}

// Set 设置断点，同一位置已存在时更新条件
// adapter 为 nil 表示当前没有会话，只记录声明
func (m *BreakpointManager) Set(ctx context.Context, a Adapter, file string, line int, condition string) (*debugger.Breakpoint, error) {
	file, err := normalizeLocation(file, line)
	if err != nil {
		return nil, err
	}

	m.mutex.Lock()
	previous := m.snapshotFile(file)
	if _, r := m.find(file, line); r != nil {
		r.bp.Condition = condition
		r.bp.Enabled = true
	} else {
		bp := debugger.NewBreakpoint(file, line)
		bp.Condition = condition
		m.files[file] = append(m.files[file], &breakpointRecord{bp: *bp})
	}
	m.reindex(file)
	m.mutex.Unlock()

	if a != nil {
		if err = m.syncFile(ctx, a, file); err != nil {
			m.restoreFile(file, previous)
			return nil, err
		}
	}
	m.persist()
	return m.get(file, line), nil
}

// Remove 移除断点，不存在时返回 not found 且不做任何修改
func (m *BreakpointManager) Remove(ctx context.Context, a Adapter, file string, line int) error {
	file, err := normalizeLocation(file, line)
	if err != nil {
		return err
	}

	m.mutex.Lock()
	i, r := m.find(file, line)
	if r == nil {
		m.mutex.Unlock()
		return e.NewNotFoundError(e.ErrBreakpointNotFound, constants.HintListFirst, "%s:%d", file, line)
	}
	previous := m.snapshotFile(file)
	m.files[file] = append(m.files[file][:i], m.files[file][i+1:]...)
	m.reindex(file)
	m.mutex.Unlock()

	if a != nil {
		if err = m.syncFile(ctx, a, file); err != nil {
			m.restoreFile(file, previous)
			return err
		}
	}
	m.persist()
	return nil
}

// SetEnabled 启用或禁用断点，禁用的断点不会发送给适配器
func (m *BreakpointManager) SetEnabled(ctx context.Context, a Adapter, file string, line int, enabled bool) (*debugger.Breakpoint, error) {
	file, err := normalizeLocation(file, line)
	if err != nil {
		return nil, err
	}

	m.mutex.Lock()
	_, r := m.find(file, line)
	if r == nil {
		m.mutex.Unlock()
		return nil, e.NewNotFoundError(e.ErrBreakpointNotFound, constants.HintListFirst, "%s:%d", file, line)
	}
	previous := m.snapshotFile(file)
	r.bp.Enabled = enabled
	if !enabled {
		r.bp.Verified = false
		r.adapterID = 0
	}
	m.reindex(file)
	m.mutex.Unlock()

	if a != nil {
		if err = m.syncFile(ctx, a, file); err != nil {
			m.restoreFile(file, previous)
			return nil, err
		}
	}
	m.persist()
	return m.get(file, line), nil
}

// List 有会话时重新向适配器同步每个文件，以适配器的回复为准
func (m *BreakpointManager) List(ctx context.Context, a Adapter) []*debugger.Breakpoint {
	if a != nil {
		for _, file := range m.fileNames() {
			if err := m.syncFile(ctx, a, file); err != nil {
				logrus.Warnf("[BreakpointManager] refresh %s fail, err = %v", file, err)
			}
		}
	}
	return m.Snapshot()
}

// SyncAll 会话启动的配置阶段调用，发送所有文件的断点
func (m *BreakpointManager) SyncAll(ctx context.Context, a Adapter) error {
	for _, file := range m.fileNames() {
		if err := m.syncFile(ctx, a, file); err != nil {
			return err
		}
	}
	return nil
}

// syncFile 发送文件中所有已启用的断点，并按回复的顺序更新验证状态
func (m *BreakpointManager) syncFile(ctx context.Context, a Adapter, file string) error {
	m.mutex.RLock()
	var (
		sent   []*breakpointRecord
		source []dap.SourceBreakpoint
	)
	for _, r := range m.files[file] {
		if r.bp.Enabled {
			sent = append(sent, r)
			source = append(source, dap.SourceBreakpoint{Line: r.bp.Line, Condition: r.bp.Condition})
		}
	}
	m.mutex.RUnlock()

	if source == nil {
		source = []dap.SourceBreakpoint{}
	}
	result, err := a.SetBreakpoints(ctx, file, source)
	if err != nil {
		logrus.Errorf("[BreakpointManager] setBreakpoints %s fail, err = %v", file, err)
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	for i, r := range sent {
		if i >= len(result) {
			r.bp.Verified = false
			r.adapterID = 0
			continue
		}
		r.bp.Verified = result[i].Verified
		r.bp.Message = result[i].Message
		r.adapterID = result[i].Id
	}
	return nil
}

// OnBreakpointEvent 适配器异步更新断点的验证状态
func (m *BreakpointManager) OnBreakpointEvent(bp dap.Breakpoint) {
	if bp.Id == 0 {
		return
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, records := range m.files {
		for _, r := range records {
			if r.adapterID == bp.Id {
				r.bp.Verified = bp.Verified
				r.bp.Message = bp.Message
				return
			}
		}
	}
}

// ResetVerification 会话结束后所有断点都回到未验证状态，声明保留到下个会话
func (m *BreakpointManager) ResetVerification() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, records := range m.files {
		for _, r := range records {
			r.bp.Verified = false
			r.bp.Message = ""
			r.adapterID = 0
		}
	}
}

// NearBreakpoint 同一文件中 [line-window, line+window] 内是否有启用的断点
func (m *BreakpointManager) NearBreakpoint(file string, line int, window int) bool {
	if file == "" {
		return false
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	index, ok := m.lines[filepath.Clean(file)]
	if !ok {
		return false
	}
	key, _ := index.Ceiling(line - window)
	return key != nil && key.(int) <= line+window
}

// Snapshot 按文件、行号排序的断点拷贝
func (m *BreakpointManager) Snapshot() []*debugger.Breakpoint {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	answer := make([]*debugger.Breakpoint, 0)
	for _, records := range m.files {
		for _, r := range records {
			bp := r.bp
			answer = append(answer, &bp)
		}
	}
	sort.Slice(answer, func(i, j int) bool {
		if answer[i].File != answer[j].File {
			return answer[i].File < answer[j].File
		}
		return answer[i].Line < answer[j].Line
	})
	return answer
}

func (m *BreakpointManager) get(file string, line int) *debugger.Breakpoint {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, r := m.find(file, line)
	if r == nil {
		return nil
	}
	bp := r.bp
	return &bp
}

func (m *BreakpointManager) fileNames() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.files))
	for file := range m.files {
		names = append(names, file)
	}
	sort.Strings(names)
	return names
}

func (m *BreakpointManager) persist() {
	if m.store == nil {
		return
	}
	bps := m.Snapshot()
	for _, bp := range bps {
		bp.Verified = false
		bp.Message = ""
	}
	if err := m.store.Save(bps); err != nil {
		logrus.Warnf("[BreakpointManager] save breakpoints fail, err = %v", err)
	}
}

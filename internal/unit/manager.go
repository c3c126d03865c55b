// manager.go - 并行编译驱动
//
// Manager 把单元派发到固定数量的工作协程并缓存结果。缓存键是
// 方法编号：同一方法的重复请求直接命中，不重复编译。单元之间
// 完全隔离，一个单元的失败既不取消也不污染其他单元。

package unit

import (
	"errors"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/tangzhangming/vega/internal/builder"
)

// Manager 并行编译驱动
type Manager struct {
	opts    *Options
	workers int

	counters Counters
	cache    sync.Map // int32 -> *Result
}

// NewManager 创建驱动。workers <= 0 时跟随 GOMAXPROCS
func NewManager(o *Options, workers int) *Manager {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	return &Manager{opts: o, workers: workers}
}

// Compile 编译单个方法，结果按方法编号缓存
func (m *Manager) Compile(in *builder.MethodInput) *Result {
	if cached, ok := m.cache.Load(in.MethodID); ok {
		m.counters.CacheHits.Inc()
		return cached.(*Result)
	}
	res := Compile(in, m.opts)
	m.record(res)
	// 并发请求同一方法时首个完成者胜出，后来者丢弃自己的产出
	actual, loaded := m.cache.LoadOrStore(in.MethodID, res)
	if loaded {
		return actual.(*Result)
	}
	return res
}

// CompileAll 并行编译一批方法，结果与输入同序
func (m *Manager) CompileAll(ins []*builder.MethodInput) []*Result {
	results := make([]*Result, len(ins))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < m.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = m.Compile(ins[i])
			}
		}()
	}
	for i := range ins {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

// Stats 诊断计数快照
func (m *Manager) Stats() Snapshot { return m.counters.Snapshot() }

// Reset 清空结果缓存，计数保留
func (m *Manager) Reset() {
	m.cache.Range(func(k, _ any) bool {
		m.cache.Delete(k)
		return true
	})
}

func (m *Manager) record(res *Result) {
	switch res.Outcome {
	case Compiled:
		m.counters.Compiled.Inc()
	case Fallback:
		m.counters.Fallbacks.Inc()
	case Failed:
		m.counters.Failed.Inc()
	}
	if res.Err != nil {
		switch {
		case errors.Is(res.Err, ErrUnsupported):
			m.counters.Unsupported.Inc()
		case errors.Is(res.Err, ErrInfeasible):
			m.counters.Infeasible.Inc()
		case errors.Is(res.Err, ErrInvariant):
			m.counters.Invariant.Inc()
		}
	}
	m.counters.InlinedCalls.Add(int64(res.Inline.InlinedCalls))
	m.counters.PassChanges.Add(int64(res.Passes.TotalChanges))
}

// counters.go - 诊断计数

package unit

import (
	"go.uber.org/atomic"
)

// Counters 跨单元共享的诊断计数。核心没有用户可见的错误面，
// 失败只通过结局与这些计数对外可观察
type Counters struct {
	Compiled    atomic.Int64
	Fallbacks   atomic.Int64
	Failed      atomic.Int64
	Unsupported atomic.Int64
	Infeasible  atomic.Int64
	Invariant   atomic.Int64
	CacheHits   atomic.Int64

	InlinedCalls atomic.Int64
	PassChanges  atomic.Int64
}

// Snapshot 计数快照
type Snapshot struct {
	Compiled     int64
	Fallbacks    int64
	Failed       int64
	Unsupported  int64
	Infeasible   int64
	Invariant    int64
	CacheHits    int64
	InlinedCalls int64
	PassChanges  int64
}

// Snapshot 当前计数的一致读取（逐项原子读，不是全局快照）
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Compiled:     c.Compiled.Load(),
		Fallbacks:    c.Fallbacks.Load(),
		Failed:       c.Failed.Load(),
		Unsupported:  c.Unsupported.Load(),
		Infeasible:   c.Infeasible.Load(),
		Invariant:    c.Invariant.Load(),
		CacheHits:    c.CacheHits.Load(),
		InlinedCalls: c.InlinedCalls.Load(),
		PassChanges:  c.PassChanges.Load(),
	}
}

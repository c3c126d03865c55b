// effects.go - 副作用汇总
//
// 为每条指令给出保守的读/写效果集合，供 GVN、LICM 与
// 读写消除判断重排是否安全。调用指令的效果默认为全读全写，
// 前端可以按方法句柄提供更精确的摘要（纯函数、只读等）。

package analysis

import (
	"github.com/tangzhangming/vega/internal/ir"
)

// Effect 效果位集合
type Effect uint8

const (
	EffNone  Effect = 0
	EffRead  Effect = 1 << iota // 读堆内存
	EffWrite                    // 写堆内存
	EffThrow                    // 可能抛出异常（部分执行可见）
	EffAlloc                    // 分配（安全点，收集器可移动对象）
)

// Reads 是否读内存
func (e Effect) Reads() bool { return e&EffRead != 0 }

// Writes 是否写内存
func (e Effect) Writes() bool { return e&EffWrite != 0 }

// CanThrow 是否可能抛出
func (e Effect) CanThrow() bool { return e&EffThrow != 0 }

// Pure 是否无任何可观察效果
func (e Effect) Pure() bool { return e == EffNone }

// Effects 方法内副作用汇总
type Effects struct {
	// callSummaries 按方法句柄的调用效果摘要，缺省保守
	callSummaries map[int32]Effect
}

// NewEffects 创建副作用汇总
// summaries 可为 nil，表示所有调用按最保守处理。
func NewEffects(summaries map[int32]Effect) *Effects {
	return &Effects{callSummaries: summaries}
}

// Of 返回指令的效果集合
func (e *Effects) Of(in *ir.Inst) Effect {
	switch in.Op {
	case ir.OpInvokeStatic, ir.OpInvokeVirtual:
		if s, ok := e.callSummaries[in.Handle]; ok {
			return s | EffThrow
		}
		return EffRead | EffWrite | EffThrow | EffAlloc
	case ir.OpNewObject, ir.OpNewArray:
		return EffAlloc | EffThrow
	}
	var eff Effect
	if in.Op.ReadsMemory() {
		eff |= EffRead
	}
	if in.Op.WritesMemory() {
		eff |= EffWrite
	}
	if in.Op.CanThrow() {
		eff |= EffThrow
	}
	return eff
}

// Observable 指令是否有可观察效果（DCE 不可删除的依据之一）
func (e *Effects) Observable(in *ir.Inst) bool {
	if in.Op.IsTerminator() || in.Op == ir.OpSafepoint || in.Op == ir.OpParam {
		return true
	}
	return !e.Of(in).Pure()
}

// MayAlias 两次内存访问是否可能别名
// 字段访问按句柄区分：不同字段句柄的访问不别名；
// 数组访问之间以及数组与字段之间保守判别名。
func (e *Effects) MayAlias(a, b *ir.Inst) bool {
	af, bf := fieldHandle(a), fieldHandle(b)
	if af >= 0 && bf >= 0 {
		return af == bf
	}
	return true
}

func fieldHandle(in *ir.Inst) int32 {
	switch in.Op {
	case ir.OpLoadField, ir.OpStoreField:
		return in.Handle
	}
	return -1
}

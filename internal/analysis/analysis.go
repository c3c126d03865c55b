// analysis.go - 分析结果缓存
//
// 各结构分析都是图上的只读查询，按需计算并缓存在 Info 中。
// 缓存以图的 CFG 版本号为键：任何 Pass 改变控制流后，
// 下一次查询会自动重算，Pass 不需要手工失效。

package analysis

import (
	"github.com/tangzhangming/vega/internal/ir"
)

// Info 一个编译单元的分析缓存
type Info struct {
	g       *ir.Graph
	effects *Effects

	version int64
	dom     *Dominators
	loops   *LoopInfo
	ind     *Induction
}

// NewInfo 创建分析缓存
// callSummaries 为可选的按方法句柄调用效果摘要。
func NewInfo(g *ir.Graph, callSummaries map[int32]Effect) *Info {
	return &Info{
		g:       g,
		effects: NewEffects(callSummaries),
		version: -1,
	}
}

// Graph 返回所属图
func (ai *Info) Graph() *ir.Graph { return ai.g }

// Effects 副作用汇总（不依赖 CFG 结构，不随版本失效）
func (ai *Info) Effects() *Effects { return ai.effects }

// Dominators 支配树（惰性计算）
func (ai *Info) Dominators() *Dominators {
	ai.refresh()
	if ai.dom == nil {
		ai.dom = ComputeDominators(ai.g)
	}
	return ai.dom
}

// Loops 循环信息（惰性计算）
func (ai *Info) Loops() *LoopInfo {
	ai.refresh()
	if ai.loops == nil {
		ai.loops = ComputeLoops(ai.g, ai.Dominators())
	}
	return ai.loops
}

// Induction 归纳变量信息（惰性计算）
func (ai *Info) Induction() *Induction {
	ai.refresh()
	if ai.ind == nil {
		ai.ind = ComputeInduction(ai.g, ai.Loops())
	}
	return ai.ind
}

// Invalidate 强制丢弃全部缓存
// 仅改变指令而不改变 CFG 的 Pass（如归纳变量被改写时）使用。
func (ai *Info) Invalidate() {
	ai.dom = nil
	ai.loops = nil
	ai.ind = nil
	ai.version = -1
}

func (ai *Info) refresh() {
	if ai.version != ai.g.Version() {
		ai.dom = nil
		ai.loops = nil
		ai.ind = nil
		ai.version = ai.g.Version()
	}
}

// licm.go - 循环不变量外提
//
// 把操作数全部循环不变的指令外提到循环前置头。
// 外提条件：
//   - 纯且不抛异常的运算可以无条件外提；
//   - 可能抛异常的指令（Div/Rem、NullCheck/BoundsCheck）还要求
//     所在块支配全部回边源块，即每次迭代必然执行：被循环内分支
//     守卫的除法外提会在守卫本应跳过它的执行里凭空引入除零；
//   - 其余带副作用或读内存的指令不动。
// 没有专用前置头的循环整体跳过。
// 外层循环先处理，外提到外层前置头的指令可能在内层继续外提。

package opt

import (
	"sort"

	"github.com/tangzhangming/vega/internal/analysis"
	"github.com/tangzhangming/vega/internal/ir"
)

// LoopInvariantCodeMotion 循环不变量外提 Pass
type LoopInvariantCodeMotion struct{}

func (LoopInvariantCodeMotion) Name() string { return "licm" }

func (LoopInvariantCodeMotion) Run(ctx *Context) bool {
	g := ctx.Graph
	loops := ctx.Info.Loops()
	dom := ctx.Info.Dominators()
	changed := false

	// 按深度升序：外层在前
	ordered := append([]*analysis.Loop(nil), loops.Loops...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Depth < ordered[j].Depth })

	for _, l := range ordered {
		if l.Preheader == ir.NoBlock {
			continue
		}
		for {
			moved := false
			for _, bid := range l.Blocks {
				insts := append([]ir.ValueID(nil), g.Block(bid).Insts...)
				for _, v := range insts {
					if hoistable(g, dom, l, v) {
						g.MoveToEnd(v, l.Preheader)
						moved = true
						changed = true
					}
				}
			}
			if !moved {
				break
			}
		}
	}
	return changed
}

func hoistable(g *ir.Graph, dom *analysis.Dominators, l *analysis.Loop, v ir.ValueID) bool {
	in := g.Inst(v)
	if in.Op.IsTerminator() || in.Op == ir.OpPhi || in.Op == ir.OpNop {
		return false
	}
	switch {
	case in.Op.IsPure():
	case in.Op == ir.OpNullCheck, in.Op == ir.OpBoundsCheck:
		// 确定性检查：输入不变则结果不变
	default:
		return false
	}
	// 可能抛异常的指令只有每次迭代必然执行才外提：
	// 块支配全部回边源块即是
	if in.Op.CanThrow() {
		for _, latch := range l.Latches {
			if !dom.Dominates(in.Block, latch) {
				return false
			}
		}
	}
	for _, a := range in.Args {
		if l.Contains(g.Inst(a).Block) {
			return false
		}
	}
	return true
}

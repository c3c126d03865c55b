// dce.go - 死代码消除
//
// 删除无使用者且无可观察副作用的指令（含 Phi），在 Pass 内
// 迭代到不动点：删除一条指令可能让它的输入也变成死代码。

package opt

import (
	"github.com/tangzhangming/vega/internal/ir"
)

// DeadCodeElimination 死代码消除 Pass
type DeadCodeElimination struct{}

func (DeadCodeElimination) Name() string { return "dead-code-elimination" }

func (DeadCodeElimination) Run(ctx *Context) bool {
	g := ctx.Graph
	eff := ctx.Info.Effects()
	changed := false
	for {
		removed := false
		for v := 0; v < g.NumValues(); v++ {
			in := g.Inst(ir.ValueID(v))
			if in.Op == ir.OpNop || !in.HasValue() {
				continue
			}
			if g.UseCount(in.ID) != 0 {
				continue
			}
			if in.Op != ir.OpPhi && eff.Observable(in) {
				continue
			}
			g.RemoveInst(in.ID)
			removed = true
		}
		if !removed {
			break
		}
		changed = true
	}
	return changed
}

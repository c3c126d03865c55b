// bce.go - 边界检查消除
//
// 两条消除途径，都要求范围证明对每一次迭代成立，绝不概率性删除：
//  1. 支配冗余：同一（下标, 长度）对的检查被更早的检查支配时，
//     后者直接复用前者的范围证明；
//  2. 归纳变量范围：下标是基本归纳变量，初值非负、步进单调不减，
//     且循环头条件 i < 长度 的真分支支配检查所在块时，
//     下标在整个循环期间都落在 [0, 长度) 内。
//
// 消除方式是把检查的使用替换为其下标输入后摘除检查指令。

package opt

import (
	"github.com/tangzhangming/vega/internal/ir"
)

// BoundsCheckElimination 边界检查消除 Pass
type BoundsCheckElimination struct{}

func (BoundsCheckElimination) Name() string { return "bounds-check-elimination" }

func (BoundsCheckElimination) Run(ctx *Context) bool {
	g := ctx.Graph
	dom := ctx.Info.Dominators()
	changed := false

	// （下标, 长度）→ 已见检查
	seen := make(map[[2]ir.ValueID]ir.ValueID)

	for _, bid := range g.RPO() {
		insts := append([]ir.ValueID(nil), g.Block(bid).Insts...)
		for _, v := range insts {
			in := g.Inst(v)
			if in.Op != ir.OpBoundsCheck {
				continue
			}
			idx, length := in.Args[0], in.Args[1]

			// 途径一：被支配的同参检查
			if prev, ok := seen[[2]ir.ValueID{idx, length}]; ok {
				if dom.Dominates(g.Inst(prev).Block, bid) {
					g.ReplaceUses(v, idx)
					g.RemoveInst(v)
					changed = true
					continue
				}
			}

			// 途径二：归纳变量范围证明
			if provenByInduction(ctx, bid, idx, length) {
				g.ReplaceUses(v, idx)
				g.RemoveInst(v)
				changed = true
				continue
			}

			seen[[2]ir.ValueID{idx, length}] = v
		}
	}
	return changed
}

// provenByInduction 归纳变量范围证明
func provenByInduction(ctx *Context, at ir.BlockID, idx, length ir.ValueID) bool {
	g := ctx.Graph
	dom := ctx.Info.Dominators()
	iv := ctx.Info.Induction().Of(idx)
	if iv == nil || !iv.NonNegative(g) || !iv.MonotonicUp() {
		return false
	}
	l := iv.Loop
	if !l.Contains(at) {
		return false
	}

	// 循环头条件必须是 i < length 且真分支支配检查
	term := g.Terminator(l.Header)
	if term == ir.NoValue {
		return false
	}
	tin := g.Inst(term)
	if tin.Op != ir.OpIf {
		return false
	}
	cond := g.Inst(tin.Args[0])
	if cond.Op != ir.OpLt || cond.Args[0] != idx || cond.Args[1] != length {
		return false
	}
	// 长度必须在循环外定义（对每次迭代取同一个值）
	if l.Contains(g.Inst(length).Block) {
		return false
	}
	trueSucc := g.Block(l.Header).Succs[0]
	return dom.Dominates(trueSucc, at)
}

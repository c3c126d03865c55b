// gvn.go - 全局值编号
//
// 为纯运算指令分配规范键（操作码 + 类型 + 规范化后的操作数 +
// 附加数据），同键且被较早等价实例支配的指令被去重。
// 只有 IsPure 的操作参与：内存读取受副作用影响，交给读写消除，
// 因此这里天然不会跨越使相等性失效的副作用合并。
//
// 可交换操作（Add/Mul/And/Or/Xor/Eq/Ne）按操作数编号排序规范化。

package opt

import (
	"fmt"

	"github.com/tangzhangming/vega/internal/ir"
)

// GlobalValueNumbering 全局值编号 Pass
type GlobalValueNumbering struct{}

func (GlobalValueNumbering) Name() string { return "global-value-numbering" }

func (GlobalValueNumbering) Run(ctx *Context) bool {
	g := ctx.Graph
	dom := ctx.Info.Dominators()
	changed := false

	// 键 → 已见的定义（可能多个互不支配的实例）
	table := make(map[string][]ir.ValueID)

	for _, bid := range g.RPO() {
		insts := append([]ir.ValueID(nil), g.Block(bid).Insts...)
		for _, v := range insts {
			in := g.Inst(v)
			if !in.Op.IsPure() || !in.HasValue() {
				continue
			}
			key := gvnKey(in)
			replaced := false
			for _, prev := range table[key] {
				pb := g.Inst(prev).Block
				if prev != v && dom.Dominates(pb, bid) && (pb != bid || before(g, prev, v)) {
					g.ReplaceUses(v, prev)
					g.RemoveInst(v)
					changed = true
					replaced = true
					break
				}
			}
			if !replaced {
				table[key] = append(table[key], v)
			}
		}
	}
	return changed
}

func gvnKey(in *ir.Inst) string {
	a := in.Args
	if isCommutative(in.Op) && len(a) == 2 && a[0] > a[1] {
		a = []ir.ValueID{a[1], a[0]}
	}
	return fmt.Sprintf("%d|%d|%v|%d|%d", in.Op, in.Type, a, in.Aux, in.Handle)
}

func isCommutative(op ir.Op) bool {
	switch op {
	case ir.OpAdd, ir.OpMul, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpEq, ir.OpNe:
		return true
	}
	return false
}

// before 判断同块内 a 是否先于 b
func before(g *ir.Graph, a, b ir.ValueID) bool {
	for _, v := range g.Block(g.Inst(a).Block).Insts {
		if v == a {
			return true
		}
		if v == b {
			return false
		}
	}
	return false
}

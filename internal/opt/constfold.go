// constfold.go - 常量折叠与代数简化
//
// 纯运算的常量输入在编译期求值；少量代数恒等式顺带化简
// （x+0、x*1、x^x 等）。条件为常量的 If 改写为 Goto 并摘除
// 死边，随后清理不可达块。

package opt

import (
	"github.com/tangzhangming/vega/internal/ir"
)

// ConstantFolding 常量折叠 Pass
type ConstantFolding struct{}

func (ConstantFolding) Name() string { return "constant-folding" }

func (ConstantFolding) Run(ctx *Context) bool {
	g := ctx.Graph
	changed := false
	for {
		iter := false
		for _, bid := range g.RPO() {
			for _, v := range append([]ir.ValueID(nil), g.Block(bid).Insts...) {
				if foldInst(g, v) {
					iter = true
				}
			}
		}
		if foldBranches(g) {
			iter = true
		}
		if !iter {
			break
		}
		changed = true
	}
	return changed
}

func foldInst(g *ir.Graph, v ir.ValueID) bool {
	in := g.Inst(v)
	if !in.Op.IsPure() || in.Op == ir.OpConst {
		return false
	}

	// 全常量输入：直接求值
	if c, ok := evalConst(g, in); ok {
		nc := g.InsertBefore(v, ir.OpConst, in.Type)
		g.Inst(nc).Aux = c
		g.ReplaceUses(v, nc)
		g.RemoveInst(v)
		return true
	}

	// 代数恒等式
	if r, ok := simplify(g, in); ok {
		g.ReplaceUses(v, r)
		g.RemoveInst(v)
		return true
	}
	return false
}

func evalConst(g *ir.Graph, in *ir.Inst) (int64, bool) {
	cs := make([]int64, len(in.Args))
	for i, a := range in.Args {
		c, ok := constOf(g, a)
		if !ok {
			return 0, false
		}
		cs[i] = c
	}
	switch in.Op {
	case ir.OpAdd:
		return cs[0] + cs[1], true
	case ir.OpSub:
		return cs[0] - cs[1], true
	case ir.OpMul:
		return cs[0] * cs[1], true
	case ir.OpDiv:
		if cs[1] == 0 {
			return 0, false // 留给运行时抛出
		}
		return cs[0] / cs[1], true
	case ir.OpRem:
		if cs[1] == 0 {
			return 0, false
		}
		return cs[0] % cs[1], true
	case ir.OpNeg:
		return -cs[0], true
	case ir.OpAnd:
		return cs[0] & cs[1], true
	case ir.OpOr:
		return cs[0] | cs[1], true
	case ir.OpXor:
		return cs[0] ^ cs[1], true
	case ir.OpNot:
		return ^cs[0], true
	case ir.OpShl:
		return cs[0] << uint64(cs[1]&63), true
	case ir.OpShr:
		return cs[0] >> uint64(cs[1]&63), true
	case ir.OpEq:
		return b2i(cs[0] == cs[1]), true
	case ir.OpNe:
		return b2i(cs[0] != cs[1]), true
	case ir.OpLt:
		return b2i(cs[0] < cs[1]), true
	case ir.OpLe:
		return b2i(cs[0] <= cs[1]), true
	case ir.OpGt:
		return b2i(cs[0] > cs[1]), true
	case ir.OpGe:
		return b2i(cs[0] >= cs[1]), true
	}
	return 0, false
}

// simplify 代数恒等式，返回可替换的现有值
func simplify(g *ir.Graph, in *ir.Inst) (ir.ValueID, bool) {
	isC := func(i int, want int64) bool {
		c, ok := constOf(g, in.Args[i])
		return ok && c == want
	}
	switch in.Op {
	case ir.OpAdd:
		if isC(1, 0) {
			return in.Args[0], true
		}
		if isC(0, 0) {
			return in.Args[1], true
		}
	case ir.OpSub:
		if isC(1, 0) {
			return in.Args[0], true
		}
	case ir.OpMul:
		if isC(1, 1) {
			return in.Args[0], true
		}
		if isC(0, 1) {
			return in.Args[1], true
		}
	case ir.OpShl, ir.OpShr:
		if isC(1, 0) {
			return in.Args[0], true
		}
	case ir.OpXor:
		if in.Args[0] == in.Args[1] {
			// x^x == 0：需要新常量，交给 evalConst 不了的场合单独处理
			z := g.InsertBefore(in.ID, ir.OpConst, in.Type)
			g.Inst(z).Aux = 0
			return z, true
		}
	}
	return ir.NoValue, false
}

// foldBranches 常量条件分支改写
func foldBranches(g *ir.Graph) bool {
	changed := false
	for _, bid := range g.RPO() {
		term := g.Terminator(bid)
		if term == ir.NoValue {
			continue
		}
		in := g.Inst(term)
		if in.Op != ir.OpIf {
			continue
		}
		c, ok := constOf(g, in.Args[0])
		if !ok {
			continue
		}
		// 后继 0 为真分支
		dead := 1
		if c == 0 {
			dead = 0
		}
		g.RemoveSuccEdge(bid, dead)
		g.SetArg(term, 0, ir.NoValue)
		in.Args = nil
		in.Op = ir.OpGoto
		changed = true
	}
	if changed {
		g.PruneUnreachable()
	}
	return changed
}

func constOf(g *ir.Graph, v ir.ValueID) (int64, bool) {
	in := g.Inst(v)
	if in.Op == ir.OpConst {
		return in.Aux, true
	}
	return 0, false
}

func b2i(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// verify.go - SSA 有效性检查
//
// 依赖支配树的一致性检查：
// - 每个非 Phi 使用都被定义支配；
// - Phi 的第 i 个输入的定义支配第 i 个前驱块的出口。
// 与 ir.Check 的结构性检查共同构成构建器与各 Pass 的后置条件。

package analysis

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/tangzhangming/vega/internal/ir"
)

// VerifySSA 检查定义支配使用的 SSA 性质
func VerifySSA(g *ir.Graph) error {
	dom := ComputeDominators(g)

	// 块内顺序：值 → 在块指令序列中的下标（Phi 视作 -1，先于所有指令）
	order := make([]int32, g.NumValues())
	for i := range order {
		order[i] = -1
	}
	for _, bid := range g.RPO() {
		for i, v := range g.Block(bid).Insts {
			order[v] = int32(i)
		}
	}

	var err error
	for _, bid := range g.RPO() {
		b := g.Block(bid)
		for _, v := range b.Insts {
			in := g.Inst(v)
			for _, a := range in.Args {
				if a == ir.NoValue {
					err = multierr.Append(err, fmt.Errorf("v%d: dangling input", v))
					continue
				}
				if !dominatesUse(g, dom, order, a, v) {
					err = multierr.Append(err, fmt.Errorf(
						"v%d in b%d: use not dominated by definition v%d in b%d",
						v, bid, a, g.Inst(a).Block))
				}
			}
		}
		for _, phi := range b.Phis {
			in := g.Inst(phi)
			if len(in.Args) != len(b.Preds) {
				continue // ir.Check 已报告
			}
			for i, a := range in.Args {
				if a == ir.NoValue {
					err = multierr.Append(err, fmt.Errorf("phi v%d: dangling input %d", phi, i))
					continue
				}
				defBlock := g.Inst(a).Block
				if !dom.Dominates(defBlock, b.Preds[i]) {
					err = multierr.Append(err, fmt.Errorf(
						"phi v%d input %d: definition v%d in b%d does not dominate predecessor b%d",
						phi, i, a, defBlock, b.Preds[i]))
				}
			}
		}
	}
	return err
}

func dominatesUse(g *ir.Graph, dom *Dominators, order []int32, def, use ir.ValueID) bool {
	d, u := g.Inst(def), g.Inst(use)
	if d.Block != u.Block {
		return dom.Dominates(d.Block, u.Block)
	}
	if d.Op == ir.OpPhi {
		return true // Phi 先于块内所有指令
	}
	return order[def] < order[use]
}

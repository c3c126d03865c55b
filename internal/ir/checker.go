// checker.go - 图一致性检查
//
// 结构性检查：终结指令唯一、非入口块有前驱、Phi 输入数量与前驱一致、
// 使用的值存在且已定义、使用计数自洽。
// 基于支配关系的 SSA 检查（定义支配使用）在 analysis 包中，
// 二者共同构成构建器的后置条件。
//
// 所有违例一次性汇总返回，方便调试时看到完整图状态。

package ir

import (
	"fmt"

	"go.uber.org/multierr"
)

// Check 对图做结构性一致性检查
// 返回 nil 表示通过；否则为 multierr 汇总的全部违例。
func Check(g *Graph) error {
	var err error

	if g.Entry == NoBlock {
		return fmt.Errorf("graph %s: no entry block", g.Name)
	}

	reachable := make([]bool, g.NumBlocks())
	for _, b := range g.RPO() {
		reachable[b] = true
	}

	for i := 0; i < g.NumBlocks(); i++ {
		b := g.Block(BlockID(i))
		if !reachable[b.ID] {
			if len(b.Insts) != 0 || len(b.Phis) != 0 {
				err = multierr.Append(err, fmt.Errorf("block b%d: unreachable but not pruned", b.ID))
			}
			continue
		}

		if b.ID != g.Entry && len(b.Preds) == 0 {
			err = multierr.Append(err, fmt.Errorf("block b%d: non-entry block has no predecessors", b.ID))
		}

		// 终结指令：有且仅有一条，且在块尾
		if t := g.Terminator(b.ID); t == NoValue {
			err = multierr.Append(err, fmt.Errorf("block b%d: missing terminator", b.ID))
		}
		for idx, v := range b.Insts {
			in := g.Inst(v)
			if in.Op.IsTerminator() && idx != len(b.Insts)-1 {
				err = multierr.Append(err, fmt.Errorf("block b%d: terminator v%d not at block end", b.ID, v))
			}
			if in.Block != b.ID {
				err = multierr.Append(err, fmt.Errorf("v%d: recorded block b%d but listed in b%d", v, in.Block, b.ID))
			}
			if in.Op == OpPhi {
				err = multierr.Append(err, fmt.Errorf("block b%d: phi v%d in instruction list", b.ID, v))
			}
			if in.Op == OpLoadLocal || in.Op == OpStoreLocal {
				err = multierr.Append(err, fmt.Errorf("block b%d: v%d local slot access survived SSA conversion", b.ID, v))
			}
		}

		// Phi 输入数量与前驱数量一致
		for _, phi := range b.Phis {
			in := g.Inst(phi)
			if in.Op != OpPhi {
				err = multierr.Append(err, fmt.Errorf("block b%d: v%d in phi list but op is %s", b.ID, phi, in.Op))
				continue
			}
			if len(in.Args) != len(b.Preds) {
				err = multierr.Append(err, fmt.Errorf(
					"block b%d: phi v%d has %d inputs but block has %d predecessors",
					b.ID, phi, len(in.Args), len(b.Preds)))
			}
		}

		// 后继/前驱对称
		for _, s := range b.Succs {
			if !containsBlock(g.Block(s).Preds, b.ID) {
				err = multierr.Append(err, fmt.Errorf("edge b%d→b%d: successor does not list predecessor", b.ID, s))
			}
		}
	}

	// 使用的值必须有定义（非 Nop）
	for v := 0; v < g.NumValues(); v++ {
		in := g.Inst(ValueID(v))
		if in.Op == OpNop {
			continue
		}
		for _, a := range in.Args {
			if a == NoValue {
				err = multierr.Append(err, fmt.Errorf("v%d: dangling input", v))
				continue
			}
			if g.Inst(a).Op == OpNop {
				err = multierr.Append(err, fmt.Errorf("v%d: uses removed value v%d", v, a))
			}
		}
	}

	return err
}

func containsBlock(s []BlockID, b BlockID) bool {
	for _, x := range s {
		if x == b {
			return true
		}
	}
	return false
}

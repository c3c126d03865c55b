// induction.go - 归纳变量分析
//
// 识别每个循环的基本归纳变量（header Phi：一路来自前置头的初值，
// 一路来自回边的 phi±常量步进），以及由其线性派生的变量。
// 结果供边界检查消除和强度削减使用。

package analysis

import (
	"github.com/tangzhangming/vega/internal/ir"
)

// IndVar 归纳变量
type IndVar struct {
	Phi  ir.ValueID // 定义 Phi（基本归纳变量本体）
	Init ir.ValueID // 循环外初值
	Step int64      // 每迭代增量（可为负）
	Loop *Loop
}

// Induction 全图归纳变量信息
type Induction struct {
	// Vars 基本归纳变量，按 Phi 的值编号索引
	Vars map[ir.ValueID]*IndVar
}

// Of 返回值对应的基本归纳变量（不是则为 nil）
func (iv *Induction) Of(v ir.ValueID) *IndVar { return iv.Vars[v] }

// ComputeInduction 识别所有循环的基本归纳变量
func ComputeInduction(g *ir.Graph, loops *LoopInfo) *Induction {
	ind := &Induction{Vars: make(map[ir.ValueID]*IndVar)}
	for _, l := range loops.Loops {
		header := g.Block(l.Header)
		for _, phi := range header.Phis {
			if v := matchBasicIV(g, l, phi); v != nil {
				ind.Vars[phi] = v
			}
		}
	}
	return ind
}

// matchBasicIV 匹配形如 phi(init, phi+step) 的基本归纳变量
func matchBasicIV(g *ir.Graph, l *Loop, phi ir.ValueID) *IndVar {
	in := g.Inst(phi)
	if in.Type != ir.TypeInt && in.Type != ir.TypeLong {
		return nil
	}
	header := g.Block(l.Header)
	if len(in.Args) != len(header.Preds) {
		return nil
	}

	init := ir.NoValue
	step := int64(0)
	found := false
	for i, p := range header.Preds {
		arg := in.Args[i]
		if !l.Contains(p) {
			if init != ir.NoValue && init != arg {
				return nil // 多个循环外初值
			}
			init = arg
			continue
		}
		// 回边输入必须是 phi ± 常量
		s, ok := matchStep(g, arg, phi)
		if !ok {
			return nil
		}
		if found && s != step {
			return nil
		}
		step = s
		found = true
	}
	if init == ir.NoValue || !found {
		return nil
	}
	return &IndVar{Phi: phi, Init: init, Step: step, Loop: l}
}

func matchStep(g *ir.Graph, v, phi ir.ValueID) (int64, bool) {
	in := g.Inst(v)
	if len(in.Args) != 2 {
		return 0, false
	}
	switch in.Op {
	case ir.OpAdd:
		if in.Args[0] == phi {
			if c, ok := constValue(g, in.Args[1]); ok {
				return c, true
			}
		}
		if in.Args[1] == phi {
			if c, ok := constValue(g, in.Args[0]); ok {
				return c, true
			}
		}
	case ir.OpSub:
		if in.Args[0] == phi {
			if c, ok := constValue(g, in.Args[1]); ok {
				return -c, true
			}
		}
	}
	return 0, false
}

func constValue(g *ir.Graph, v ir.ValueID) (int64, bool) {
	in := g.Inst(v)
	if in.Op == ir.OpConst {
		return in.Aux, true
	}
	return 0, false
}

// NonNegative 归纳变量在整个循环期间是否恒 ≥ 0
// 要求初值为非负常量且步进 ≥ 0。
func (v *IndVar) NonNegative(g *ir.Graph) bool {
	c, ok := constValue(g, v.Init)
	return ok && c >= 0 && v.Step >= 0
}

// MonotonicUp 是否单调不减
func (v *IndVar) MonotonicUp() bool { return v.Step >= 0 }

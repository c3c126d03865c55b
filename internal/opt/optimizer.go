// optimizer.go - 优化器（流水线装配）
//
// 优化层级：
//   O0: 不优化（基线直通）
//   O1: 常量折叠、死代码消除
//   O2: O1 + GVN/LICM/边界检查消除（组内迭代到不动点）+ 读写消除
//   O3: O2 + 锐化与内联（内联先行，展开的代码再过一遍全部优化）
//
// 流水线顺序固定且只走一遍；只有 GVN/LICM/BCE 这一组以组为单位
// 迭代，因为三者互相暴露机会。

package opt

// Tier 优化层级
type Tier int

const (
	TierO0 Tier = iota
	TierO1
	TierO2
	TierO3
)

// groupMaxIters GVN/LICM/BCE 组的迭代上限
const groupMaxIters = 8

// Optimizer 优化器
type Optimizer struct {
	tier Tier
}

// NewOptimizer 创建优化器
func NewOptimizer(tier Tier) *Optimizer {
	if tier < TierO0 {
		tier = TierO0
	}
	if tier > TierO3 {
		tier = TierO3
	}
	return &Optimizer{tier: tier}
}

// Tier 当前层级
func (o *Optimizer) Tier() Tier { return o.tier }

// Optimize 对单个图运行完整流水线
// 返回累计的 Pass 统计。
func (o *Optimizer) Optimize(ctx *Context) PassStats {
	if o.tier == TierO0 {
		return PassStats{}
	}

	// O3: 锐化与内联先行，内联产物享受后续全部优化
	pre := NewPassManager()
	if o.tier >= TierO3 {
		pre.AddPass(Sharpening{})
		pre.AddPass(Inlining{})
	}
	pre.Run(ctx)

	base := NewPassManager()
	base.AddPass(ConstantFolding{})
	base.AddPass(DeadCodeElimination{})
	base.Run(ctx)

	if o.tier >= TierO2 {
		group := NewPassManager()
		group.AddPass(GlobalValueNumbering{})
		group.AddPass(LoopInvariantCodeMotion{})
		group.AddPass(BoundsCheckElimination{})
		group.RunUntilFixed(ctx, groupMaxIters)

		tail := NewPassManager()
		tail.AddPass(LoadStoreElimination{})
		tail.AddPass(DeadCodeElimination{})
		tail.Run(ctx)

		return mergeStats(pre.Stats(), base.Stats(), group.Stats(), tail.Stats())
	}
	return mergeStats(pre.Stats(), base.Stats())
}

func mergeStats(all ...PassStats) PassStats {
	out := PassStats{PerPassChanges: make(map[string]int)}
	for _, s := range all {
		out.PassesRun += s.PassesRun
		out.TotalChanges += s.TotalChanges
		for k, v := range s.PerPassChanges {
			out.PerPassChanges[k] += v
		}
	}
	return out
}

// dom.go - 支配树计算
//
// 使用 Cooper-Harvey-Kennedy 的迭代算法：在逆后序上反复求前驱
// 支配者的交集，直到不动点。对编译器常见规模的 CFG，这一实现
// 比 Lengauer-Tarjan 更简单且足够快。
//
// 参考文献：
// - "A Simple, Fast Dominance Algorithm" - Cooper, Harvey, Kennedy

package analysis

import (
	"github.com/tangzhangming/vega/internal/ir"
)

// Dominators 支配树
type Dominators struct {
	idom     []ir.BlockID // 直接支配者（入口块的 idom 是自身）
	rpoIndex []int32
}

// ComputeDominators 计算支配树
func ComputeDominators(g *ir.Graph) *Dominators {
	rpo := g.RPO()
	rpoIndex := g.RPOIndex()

	idom := make([]ir.BlockID, g.NumBlocks())
	for i := range idom {
		idom[i] = ir.NoBlock
	}
	idom[g.Entry] = g.Entry

	d := &Dominators{idom: idom, rpoIndex: rpoIndex}

	changed := true
	for changed {
		changed = false
		for _, b := range rpo {
			if b == g.Entry {
				continue
			}
			// 选第一个已处理的前驱作为起点
			newIdom := ir.NoBlock
			for _, p := range g.Block(b).Preds {
				if idom[p] == ir.NoBlock {
					continue
				}
				if newIdom == ir.NoBlock {
					newIdom = p
				} else {
					newIdom = d.intersect(p, newIdom)
				}
			}
			if newIdom != ir.NoBlock && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}
	return d
}

// intersect 沿支配树向上走到两个块的最近公共支配者
func (d *Dominators) intersect(a, b ir.BlockID) ir.BlockID {
	for a != b {
		for d.rpoIndex[a] > d.rpoIndex[b] {
			a = d.idom[a]
		}
		for d.rpoIndex[b] > d.rpoIndex[a] {
			b = d.idom[b]
		}
	}
	return a
}

// IDom 返回块的直接支配者（入口块返回自身）
func (d *Dominators) IDom(b ir.BlockID) ir.BlockID { return d.idom[b] }

// Dominates 判断 a 是否支配 b（含 a == b）
func (d *Dominators) Dominates(a, b ir.BlockID) bool {
	for {
		if a == b {
			return true
		}
		next := d.idom[b]
		if next == b || next == ir.NoBlock {
			return false
		}
		b = next
	}
}

// Frontier 计算全图支配边界
// 构建器在骨架未提供局部变量活跃信息时用它放置 Phi。
func (d *Dominators) Frontier(g *ir.Graph) [][]ir.BlockID {
	df := make([][]ir.BlockID, g.NumBlocks())
	for _, b := range g.RPO() {
		preds := g.Block(b).Preds
		if len(preds) < 2 {
			continue
		}
		for _, p := range preds {
			runner := p
			for runner != d.idom[b] && runner != ir.NoBlock {
				if !containsBlock(df[runner], b) {
					df[runner] = append(df[runner], b)
				}
				next := d.idom[runner]
				if next == runner {
					break
				}
				runner = next
			}
		}
	}
	return df
}

func containsBlock(s []ir.BlockID, b ir.BlockID) bool {
	for _, x := range s {
		if x == b {
			return true
		}
	}
	return false
}

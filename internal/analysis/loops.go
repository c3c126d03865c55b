// loops.go - 循环结构分析
//
// 通过回边（latch→header 且 header 支配 latch）识别自然循环，
// 计算循环嵌套深度、出口集合与前置头。
// 前置头要求：header 在循环外的前驱唯一，且该前驱只有一个后继。
// 不满足时 Preheader 为 NoBlock，LICM 等会放弃对该循环的改写。

package analysis

import (
	"sort"

	"github.com/tangzhangming/vega/internal/ir"
)

// Loop 自然循环
type Loop struct {
	Header    ir.BlockID
	Latches   []ir.BlockID // 回边源块
	Blocks    []ir.BlockID // 循环体（含 header），按块编号升序
	Exits     []ir.BlockID // 循环外的后继块
	Preheader ir.BlockID   // 无专用前置头时为 NoBlock
	Parent    *Loop
	Depth     int // 最外层为 1

	inLoop []bool
}

// Contains 判断块是否在循环体内
func (l *Loop) Contains(b ir.BlockID) bool {
	return int(b) < len(l.inLoop) && l.inLoop[b]
}

// LoopInfo 全图循环信息
type LoopInfo struct {
	Loops []*Loop

	// innermost[b] 块所在的最内层循环（不在循环内为 nil）
	innermost []*Loop
}

// InnermostLoop 返回块所在的最内层循环
func (li *LoopInfo) InnermostLoop(b ir.BlockID) *Loop {
	if int(b) >= len(li.innermost) {
		return nil
	}
	return li.innermost[b]
}

// Depth 返回块的循环嵌套深度（不在循环内为 0）
func (li *LoopInfo) Depth(b ir.BlockID) int {
	if l := li.InnermostLoop(b); l != nil {
		return l.Depth
	}
	return 0
}

// ComputeLoops 识别自然循环并计算嵌套关系
func ComputeLoops(g *ir.Graph, dom *Dominators) *LoopInfo {
	li := &LoopInfo{innermost: make([]*Loop, g.NumBlocks())}

	// 第一步：按回边收集循环体，同一 header 的多条回边合并为一个循环
	byHeader := make(map[ir.BlockID]*Loop)
	for _, b := range g.RPO() {
		for _, s := range g.Block(b).Succs {
			if !dom.Dominates(s, b) {
				continue
			}
			l := byHeader[s]
			if l == nil {
				l = &Loop{Header: s, Preheader: ir.NoBlock, inLoop: make([]bool, g.NumBlocks())}
				l.inLoop[s] = true
				byHeader[s] = l
				li.Loops = append(li.Loops, l)
			}
			l.Latches = append(l.Latches, b)
			collectBody(g, l, b)
		}
	}

	for _, l := range li.Loops {
		for b := 0; b < g.NumBlocks(); b++ {
			if l.inLoop[b] {
				l.Blocks = append(l.Blocks, ir.BlockID(b))
			}
		}
		l.computeExits(g)
		l.findPreheader(g)
		g.Block(l.Header).LoopHeader = true
	}

	// 第二步：按体积升序确定嵌套（小循环嵌在大循环里）
	sort.Slice(li.Loops, func(i, j int) bool {
		return len(li.Loops[i].Blocks) < len(li.Loops[j].Blocks)
	})
	for i, inner := range li.Loops {
		for _, outer := range li.Loops[i+1:] {
			if outer.Contains(inner.Header) && outer != inner {
				inner.Parent = outer
				break
			}
		}
	}
	for _, l := range li.Loops {
		d := 1
		for p := l.Parent; p != nil; p = p.Parent {
			d++
		}
		l.Depth = d
	}
	for _, l := range li.Loops {
		for _, b := range l.Blocks {
			cur := li.innermost[b]
			if cur == nil || l.Depth > cur.Depth {
				li.innermost[b] = l
			}
		}
	}
	return li
}

// collectBody 从 latch 沿前驱反向遍历补全循环体
func collectBody(g *ir.Graph, l *Loop, latch ir.BlockID) {
	if l.inLoop[latch] {
		return
	}
	l.inLoop[latch] = true
	work := []ir.BlockID{latch}
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		for _, p := range g.Block(b).Preds {
			if !l.inLoop[p] {
				l.inLoop[p] = true
				work = append(work, p)
			}
		}
	}
}

func (l *Loop) computeExits(g *ir.Graph) {
	seen := make(map[ir.BlockID]bool)
	for _, b := range l.Blocks {
		for _, s := range g.Block(b).Succs {
			if !l.Contains(s) && !seen[s] {
				seen[s] = true
				l.Exits = append(l.Exits, s)
			}
		}
	}
	sort.Slice(l.Exits, func(i, j int) bool { return l.Exits[i] < l.Exits[j] })
}

func (l *Loop) findPreheader(g *ir.Graph) {
	outside := ir.NoBlock
	for _, p := range g.Block(l.Header).Preds {
		if l.Contains(p) {
			continue
		}
		if outside != ir.NoBlock {
			return // 多个循环外前驱，无专用前置头
		}
		outside = p
	}
	if outside != ir.NoBlock && len(g.Block(outside).Succs) == 1 {
		l.Preheader = outside
	}
}

// coloring.go - 图着色寄存器分配
//
// Chaitin-Briggs 流程：活跃区间两两相交建干涉图，build → coalesce →
// simplify → select，选色失败的节点溢出进栈槽后整轮重来。全部用显式
// 工作表和栈迭代，不递归回溯。
//
//   - 合并（保守式，Briggs 判据）：Phi 与其输入这类搬移相关的节点，
//     当合并后高度数（≥K）邻居不足 K 个时并成一个节点，边上的衔接
//     搬移随之消失；
//   - 简化：反复摘除度数 < K 的节点压栈；摘不动时按溢出代价/度数比
//     选出候选乐观压栈（代价 = Σ 每个定义/使用点的 10^循环深度），
//     并列时值编号小者溢出；
//   - 选色：出栈依次取类内编号最小的可用寄存器；跨调用的节点事先
//     禁掉调用破坏集合，拿到的颜色天然幸存。
//
// 编译代价高于线性扫描，供预先编译/高优化档位使用。
//
// 文献：Chaitin 1982；Briggs, Cooper & Torczon 1994。

package regalloc

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/tangzhangming/vega/internal/ir"
)

// Coloring 图着色分配器
type Coloring struct {
	log *zap.Logger
}

// NewColoring 创建图着色分配器
func NewColoring(log *zap.Logger) *Coloring {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coloring{log: log}
}

func (a *Coloring) Name() string { return "coloring" }

// Allocate 执行分配
func (a *Coloring) Allocate(g *ir.Graph, lv *Liveness, tgt *Target) (*Allocation, error) {
	if err := tgt.Validate(); err != nil {
		return nil, err
	}
	ivs := lv.Intervals()
	spilled := make(map[ir.ValueID]bool)

	var colors map[ir.ValueID]Reg
	maxRounds := len(ivs) + 2
	round := 0
	for ; round < maxRounds; round++ {
		cg, err := buildConflicts(g, lv, tgt, ivs, spilled)
		if err != nil {
			return nil, err
		}
		cg.coalesce()
		cg.simplify()
		newSpills := cg.selectColors()
		if len(newSpills) == 0 {
			colors = cg.colorMap()
			break
		}
		for _, v := range newSpills {
			spilled[v] = true
		}
	}
	if colors == nil {
		return nil, fmt.Errorf("coloring did not converge after %d rounds: %w", round, ErrInfeasible)
	}

	alloc := newAllocation(tgt, lv.Num)
	slots := assignSlots(ivs, spilled)
	for _, iv := range ivs {
		var loc Location
		if spilled[iv.Value] {
			loc = Location{Kind: LocStack, Index: slots[iv.Value]}
		} else {
			loc = regLoc(iv.Type, colors[iv.Value])
		}
		for _, r := range iv.Ranges {
			alloc.assign(iv.Value, r, loc)
		}
	}
	alloc.NumSlots = int32(len(slots))

	if err := finishAllocation(g, lv, alloc, a.log); err != nil {
		return nil, err
	}
	a.log.Debug("coloring done",
		zap.String("method", g.Name),
		zap.Int("rounds", round+1),
		zap.Int("spilled", len(spilled)))
	return alloc, nil
}

// assignSlots 溢出值按编号升序领槽，保证两次编译槽号一致
func assignSlots(ivs []*Interval, spilled map[ir.ValueID]bool) map[ir.ValueID]int32 {
	var vals []ir.ValueID
	for _, iv := range ivs {
		if spilled[iv.Value] {
			vals = append(vals, iv.Value)
		}
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	out := make(map[ir.ValueID]int32, len(vals))
	for i, v := range vals {
		out[v] = int32(i)
	}
	return out
}

// ============================================================================
// 干涉图
// ============================================================================

type colorNode struct {
	iv        *Interval
	adj       []int  // 邻居节点下标，有序
	forbidden uint64 // 禁用寄存器位集（含调用破坏集合，若跨调用）

	degree int
	alias  int // 合并后的代表（并查集）
	color  Reg
	cost   float64
}

type conflictGraph struct {
	tgt   *Target
	nodes []*colorNode
	byVal map[ir.ValueID]int
	moves [][2]int // 搬移相关节点对（Phi, 输入）
	stack []int
}

func buildConflicts(g *ir.Graph, lv *Liveness, tgt *Target, ivs []*Interval, spilled map[ir.ValueID]bool) (*conflictGraph, error) {
	cg := &conflictGraph{tgt: tgt, byVal: make(map[ir.ValueID]int)}
	for _, iv := range ivs {
		if spilled[iv.Value] {
			continue
		}
		if iv.Type.IsFloat() && tgt.NumFP == 0 {
			return nil, fmt.Errorf("no float registers for v%d: %w", iv.Value, ErrInfeasible)
		}
		n := &colorNode{iv: iv, alias: len(cg.nodes), color: NoReg}
		n.cost = spillCost(lv, iv)
		if crossesAnyCall(lv.Num, iv) {
			if iv.Type.IsFloat() {
				n.forbidden |= tgt.FPClobbered
			} else {
				n.forbidden |= tgt.GPClobbered
			}
		}
		cg.byVal[iv.Value] = len(cg.nodes)
		cg.nodes = append(cg.nodes, n)
	}

	for i := 0; i < len(cg.nodes); i++ {
		for j := i + 1; j < len(cg.nodes); j++ {
			a, b := cg.nodes[i], cg.nodes[j]
			if a.iv.Type.IsFloat() != b.iv.Type.IsFloat() {
				continue
			}
			if a.iv.Intersects(b.iv) {
				a.adj = append(a.adj, j)
				b.adj = append(b.adj, i)
			}
		}
	}
	for _, n := range cg.nodes {
		n.degree = len(n.adj)
	}

	// 搬移相关：Phi 与各输入
	for _, bid := range lv.Num.Order() {
		for _, phi := range g.Block(bid).Phis {
			pi, ok := cg.byVal[phi]
			if !ok {
				continue
			}
			for _, a := range g.Inst(phi).Args {
				if ai, ok := cg.byVal[a]; ok && ai != pi {
					cg.moves = append(cg.moves, [2]int{pi, ai})
				}
			}
		}
	}
	return cg, nil
}

// spillCost 定义点加所有使用点，每点按 10^循环深度加权
func spillCost(lv *Liveness, iv *Interval) float64 {
	depth := func(pos int32) int {
		if b := lv.Num.BlockAt(pos); b != ir.NoBlock {
			return lv.info.Loops().Depth(b)
		}
		return 0
	}
	cost := math.Pow(10, float64(depth(lv.Num.DefPos(iv.Value))))
	for _, u := range iv.Uses {
		cost += math.Pow(10, float64(depth(u)))
	}
	return cost
}

// crossesAnyCall 区间是否跨越某个调用/安全点
func crossesAnyCall(num *Numbering, iv *Interval) bool {
	for _, c := range num.Calls(iv.Start(), iv.End()) {
		if iv.Covers(c) && num.DefPos(iv.Value) != c {
			return true
		}
	}
	return false
}

func (cg *conflictGraph) k(n *colorNode) int {
	if n.iv.Type.IsFloat() {
		return len(cg.tgt.allocatable(true))
	}
	return len(cg.tgt.allocatable(false))
}

func (cg *conflictGraph) find(i int) int {
	for cg.nodes[i].alias != i {
		i = cg.nodes[i].alias
	}
	return i
}

// interferes 两个代表节点当前是否相邻
func (cg *conflictGraph) interferes(a, b int) bool {
	for _, n := range cg.nodes[a].adj {
		if cg.find(n) == b {
			return true
		}
	}
	return false
}

// coalesce 保守合并搬移相关节点
func (cg *conflictGraph) coalesce() {
	for _, mv := range cg.moves {
		a, b := cg.find(mv[0]), cg.find(mv[1])
		if a == b || cg.interferes(a, b) {
			continue
		}
		na, nb := cg.nodes[a], cg.nodes[b]
		if na.iv.Type.IsFloat() != nb.iv.Type.IsFloat() {
			continue
		}
		// Briggs 判据：合并后高度数邻居 < K
		k := cg.k(na)
		high := 0
		seen := make(map[int]bool)
		for _, n := range append(append([]int{}, na.adj...), nb.adj...) {
			r := cg.find(n)
			if r == a || r == b || seen[r] {
				continue
			}
			seen[r] = true
			if cg.nodes[r].degree >= k {
				high++
			}
		}
		if high >= k {
			continue
		}
		// b 并入 a
		nb.alias = a
		na.forbidden |= nb.forbidden
		for _, n := range nb.adj {
			r := cg.find(n)
			if r != a && !cg.interferes(a, r) {
				na.adj = append(na.adj, r)
				cg.nodes[r].adj = append(cg.nodes[r].adj, a)
			}
		}
		na.degree = cg.liveDegree(a)
		for _, n := range nb.adj {
			if r := cg.find(n); r != a {
				cg.nodes[r].degree = cg.liveDegree(r)
			}
		}
	}
}

// liveDegree 代表节点的当前度数（按代表去重）
func (cg *conflictGraph) liveDegree(i int) int {
	seen := make(map[int]bool)
	for _, n := range cg.nodes[i].adj {
		r := cg.find(n)
		if r != i {
			seen[r] = true
		}
	}
	return len(seen)
}

// roots 代表节点下标，按值编号有序
func (cg *conflictGraph) roots() []int {
	var out []int
	for i := range cg.nodes {
		if cg.find(i) == i {
			out = append(out, i)
		}
	}
	return out
}

// simplify 反复摘除低度数节点压栈；摘不动时按代价/度数比乐观压栈
func (cg *conflictGraph) simplify() {
	remaining := make(map[int]bool)
	degree := make(map[int]int)
	for _, i := range cg.roots() {
		remaining[i] = true
		degree[i] = cg.liveDegree(i)
	}

	neighbors := func(i int) []int {
		seen := make(map[int]bool)
		var out []int
		for _, n := range cg.nodes[i].adj {
			r := cg.find(n)
			if r != i && remaining[r] && !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
		return out
	}

	order := cg.roots()
	for len(remaining) > 0 {
		picked := -1
		for _, i := range order {
			if remaining[i] && degree[i] < cg.k(cg.nodes[i]) {
				picked = i
				break
			}
		}
		if picked < 0 {
			// 溢出候选：最小 代价/度数，并列时值编号小者
			best := -1
			var bestRatio float64
			for _, i := range order {
				if !remaining[i] {
					continue
				}
				d := degree[i]
				if d == 0 {
					d = 1
				}
				ratio := cg.nodes[i].cost / float64(d)
				if best < 0 || ratio < bestRatio ||
					(ratio == bestRatio && cg.nodes[i].iv.Value < cg.nodes[best].iv.Value) {
					best = i
					bestRatio = ratio
				}
			}
			picked = best
		}
		for _, n := range neighbors(picked) {
			degree[n]--
		}
		delete(remaining, picked)
		cg.stack = append(cg.stack, picked)
	}
}

// selectColors 出栈选色，失败的节点作为本轮溢出返回
func (cg *conflictGraph) selectColors() []ir.ValueID {
	var spills []ir.ValueID
	for i := len(cg.stack) - 1; i >= 0; i-- {
		n := cg.nodes[cg.stack[i]]
		used := n.forbidden
		for _, adj := range cg.nodes[cg.stack[i]].adj {
			r := cg.find(adj)
			if c := cg.nodes[r].color; c != NoReg {
				used |= 1 << uint(c)
			}
		}
		n.color = NoReg
		for _, r := range cg.tgt.allocatable(n.iv.Type.IsFloat()) {
			if used&(1<<uint(r)) == 0 {
				n.color = r
				break
			}
		}
		if n.color == NoReg {
			spills = append(spills, n.iv.Value)
		}
	}
	return spills
}

// colorMap 每个值（含被合并进代表的）最终颜色
func (cg *conflictGraph) colorMap() map[ir.ValueID]Reg {
	out := make(map[ir.ValueID]Reg, len(cg.nodes))
	for i, n := range cg.nodes {
		out[n.iv.Value] = cg.nodes[cg.find(i)].color
	}
	return out
}

// liveness.go - 线性编号与活跃区间
//
// 把 RPO 下的块序列摊平成线性位置（步长 2，块首位置留给 Phi，终结指
// 令之后的奇数位留给边上的搬移），随后做标准的逆向数据流：
//
//   liveOut(b) = ∪ over s ∈ succ(b) [ liveIn(s) − phiDefs(s) ∪ phiIns(b→s) ]
//   liveIn(b)  = gen(b) ∪ (liveOut(b) − def(b))
//
// 区间构建按 Wimmer 的方式逐块逆序扫描：块末活跃的值先铺满整块，
// 定义点收缩区间起点，使用点登记后续分配启发式需要的位置。两条
// 专门规则：
//   - Phi 输入的"使用"记在前驱边上（前驱终结指令之后的奇数位），
//     不记在 Phi 所在块；
//   - 循环携带的值（循环头入口活跃）的区间覆盖整个循环体，与体内
//     实际使用位置无关，否则回边会把旧值读进已被复用的位置。
//
// 文献：Wimmer & Franz, Linear Scan Register Allocation on SSA Form,
// CGO 2010。

package regalloc

import (
	"math/bits"
	"sort"

	"go.uber.org/zap"

	"github.com/tangzhangming/vega/internal/analysis"
	"github.com/tangzhangming/vega/internal/ir"
)

// NoPos 无位置
const NoPos int32 = -1

// posStep 相邻指令的位置间隔
const posStep = 2

// ============================================================================
// 线性编号
// ============================================================================

// Range 半开位置区间 [From, To)
type Range struct {
	From int32
	To   int32
}

// Overlaps 两区间是否相交
func (r Range) Overlaps(o Range) bool { return r.From < o.To && o.From < r.To }

// Numbering 指令的线性位置编号，跟随图的 RPO
type Numbering struct {
	defPos []int32  // 每个值的定义位置
	blocks []Range  // 每个块的位置区间（按 BlockID 索引）
	order  []ir.BlockID
	calls  []int32 // 调用与安全点位置，有序
}

// Number 给图编号
func Number(g *ir.Graph) *Numbering {
	n := &Numbering{
		defPos: make([]int32, g.NumValues()),
		blocks: make([]Range, g.NumBlocks()),
		order:  g.RPO(),
	}
	for i := range n.defPos {
		n.defPos[i] = NoPos
	}
	pos := int32(0)
	for _, bid := range n.order {
		b := g.Block(bid)
		from := pos
		// 全部 Phi 并行地定义在块首同一位置
		for _, phi := range b.Phis {
			n.defPos[phi] = pos
		}
		pos += posStep
		for _, v := range b.Insts {
			in := g.Inst(v)
			if in.Op == ir.OpNop {
				continue
			}
			n.defPos[v] = pos
			if in.Op.IsCall() || in.Op.IsSafepoint() {
				n.calls = append(n.calls, pos)
			}
			pos += posStep
		}
		n.blocks[bid] = Range{From: from, To: pos}
	}
	return n
}

// DefPos 值的定义位置
func (n *Numbering) DefPos(v ir.ValueID) int32 { return n.defPos[v] }

// BlockRange 块的位置区间
func (n *Numbering) BlockRange(b ir.BlockID) Range { return n.blocks[b] }

// EdgePos 前驱边上的搬移/使用位置（终结指令之后的奇数位）
func (n *Numbering) EdgePos(pred ir.BlockID) int32 { return n.blocks[pred].To - 1 }

// Order 编号采用的块序
func (n *Numbering) Order() []ir.BlockID { return n.order }

// Calls 区间 (after, before) 内的调用/安全点位置
func (n *Numbering) Calls(after, before int32) []int32 {
	lo := sort.Search(len(n.calls), func(i int) bool { return n.calls[i] > after })
	hi := sort.Search(len(n.calls), func(i int) bool { return n.calls[i] >= before })
	return n.calls[lo:hi]
}

// AllCalls 全部调用/安全点位置
func (n *Numbering) AllCalls() []int32 { return n.calls }

// BlockAt 位置所在的块
func (n *Numbering) BlockAt(pos int32) ir.BlockID {
	for _, bid := range n.order {
		r := n.blocks[bid]
		if r.From <= pos && pos < r.To {
			return bid
		}
	}
	return ir.NoBlock
}

// ============================================================================
// 活跃区间
// ============================================================================

// Interval 一个值的活跃区间：有序不相交的范围集合加使用位置表
type Interval struct {
	Value ir.ValueID
	Type  ir.Type

	Ranges []Range // 按 From 有序，互不相接
	Uses   []int32 // 使用位置，有序；含前驱边上的 Phi 输入使用
}

// Start 区间起点
func (iv *Interval) Start() int32 { return iv.Ranges[0].From }

// End 区间终点
func (iv *Interval) End() int32 { return iv.Ranges[len(iv.Ranges)-1].To }

// Covers 位置是否落在某个范围内
func (iv *Interval) Covers(pos int32) bool {
	for _, r := range iv.Ranges {
		if r.From > pos {
			return false
		}
		if pos < r.To {
			return true
		}
	}
	return false
}

// Intersects 两区间是否存在相交范围
func (iv *Interval) Intersects(o *Interval) bool {
	i, j := 0, 0
	for i < len(iv.Ranges) && j < len(o.Ranges) {
		a, b := iv.Ranges[i], o.Ranges[j]
		if a.Overlaps(b) {
			return true
		}
		if a.To <= b.From {
			i++
		} else {
			j++
		}
	}
	return false
}

// NextUseAfter 不早于 pos 的第一个使用位置，没有则 NoPos
func (iv *Interval) NextUseAfter(pos int32) int32 {
	i := sort.Search(len(iv.Uses), func(i int) bool { return iv.Uses[i] >= pos })
	if i == len(iv.Uses) {
		return NoPos
	}
	return iv.Uses[i]
}

// addRange 逆序构建时向前扩展首范围
func (iv *Interval) addRange(from, to int32) {
	if len(iv.Ranges) > 0 && to >= iv.Ranges[0].From {
		if from < iv.Ranges[0].From {
			iv.Ranges[0].From = from
		}
		if to > iv.Ranges[0].To {
			iv.Ranges[0].To = to
		}
		return
	}
	iv.Ranges = append([]Range{{From: from, To: to}}, iv.Ranges...)
}

// setFrom 定义点收缩首范围起点
func (iv *Interval) setFrom(pos int32) {
	if len(iv.Ranges) == 0 {
		// 无使用的定义：占住定义点本身
		iv.Ranges = []Range{{From: pos, To: pos + posStep}}
		return
	}
	iv.Ranges[0].From = pos
}

// cover 事后覆盖一段（循环携带扩展），normalize 恢复不变式
func (iv *Interval) cover(from, to int32) {
	iv.Ranges = append(iv.Ranges, Range{From: from, To: to})
}

func (iv *Interval) normalize() {
	sort.Slice(iv.Ranges, func(i, j int) bool { return iv.Ranges[i].From < iv.Ranges[j].From })
	out := iv.Ranges[:0]
	for _, r := range iv.Ranges {
		if n := len(out); n > 0 && r.From <= out[n-1].To {
			if r.To > out[n-1].To {
				out[n-1].To = r.To
			}
			continue
		}
		out = append(out, r)
	}
	iv.Ranges = out
	sort.Slice(iv.Uses, func(i, j int) bool { return iv.Uses[i] < iv.Uses[j] })
}

// ============================================================================
// 活跃分析
// ============================================================================

// Liveness 活跃分析结果：两种分配器与栈图编码器的唯一输入
type Liveness struct {
	Num  *Numbering
	info *analysis.Info

	intervals []*Interval // 按 ValueID 索引，死值/无值指令为 nil
	liveIn    []bitset    // 按 BlockID 索引
}

// Compute 计算活跃区间
func Compute(g *ir.Graph, info *analysis.Info, log *zap.Logger) *Liveness {
	if log == nil {
		log = zap.NewNop()
	}
	lv := &Liveness{
		Num:       Number(g),
		info:      info,
		intervals: make([]*Interval, g.NumValues()),
		liveIn:    make([]bitset, g.NumBlocks()),
	}
	liveOut := lv.dataflow(g)
	lv.buildIntervals(g, liveOut)
	lv.extendLoopCarried(g)
	live := 0
	for _, iv := range lv.intervals {
		if iv != nil {
			iv.normalize()
			live++
		}
	}
	log.Debug("liveness computed",
		zap.String("method", g.Name), zap.Int("intervals", live))
	return lv
}

// Interval 值的区间，死值返回 nil
func (lv *Liveness) Interval(v ir.ValueID) *Interval { return lv.intervals[v] }

// Intervals 全部区间，按值 ID 升序
func (lv *Liveness) Intervals() []*Interval {
	out := make([]*Interval, 0, len(lv.intervals))
	for _, iv := range lv.intervals {
		if iv != nil {
			out = append(out, iv)
		}
	}
	return out
}

// LiveAt 位置 pos 上活跃的值（定义于 pos 的不算）
func (lv *Liveness) LiveAt(pos int32) []ir.ValueID {
	var out []ir.ValueID
	for _, iv := range lv.intervals {
		if iv != nil && lv.Num.DefPos(iv.Value) != pos && iv.Covers(pos) {
			out = append(out, iv.Value)
		}
	}
	return out
}

// LiveRefsAt 跨越位置 pos 活跃的引用类型值。安全点取根集用:
// 最后一次使用恰为 pos 的值不跨越，调用自身的结果不跨越
func (lv *Liveness) LiveRefsAt(pos int32) []ir.ValueID {
	var out []ir.ValueID
	for _, iv := range lv.intervals {
		if iv == nil || !iv.Type.IsReference() {
			continue
		}
		if lv.Num.DefPos(iv.Value) != pos && iv.Covers(pos+1) && iv.Start() <= pos {
			out = append(out, iv.Value)
		}
	}
	return out
}

func (lv *Liveness) interval(v ir.ValueID, t ir.Type) *Interval {
	if lv.intervals[v] == nil {
		lv.intervals[v] = &Interval{Value: v, Type: t}
	}
	return lv.intervals[v]
}

// dataflow 逆向定点求 liveIn/liveOut
func (lv *Liveness) dataflow(g *ir.Graph) []bitset {
	order := lv.Num.order
	liveOut := make([]bitset, g.NumBlocks())
	nv := g.NumValues()
	for _, bid := range order {
		lv.liveIn[bid] = newBitset(nv)
		liveOut[bid] = newBitset(nv)
	}
	for changed := true; changed; {
		changed = false
		for i := len(order) - 1; i >= 0; i-- {
			bid := order[i]
			b := g.Block(bid)
			out := newBitset(nv)
			for _, s := range b.Succs {
				sb := g.Block(s)
				out.union(lv.liveIn[s])
				for _, phi := range sb.Phis {
					out.clear(phi)
				}
				// 本边贡献的 Phi 输入
				for pi, p := range sb.Preds {
					if p != bid {
						continue
					}
					for _, phi := range sb.Phis {
						out.set(g.Inst(phi).Args[pi])
					}
				}
			}
			in := out.clone()
			for j := len(b.Insts) - 1; j >= 0; j-- {
				inst := g.Inst(b.Insts[j])
				if inst.Op == ir.OpNop {
					continue
				}
				if inst.Type != ir.TypeVoid {
					in.clear(b.Insts[j])
				}
				for _, a := range inst.Args {
					in.set(a)
				}
			}
			for _, phi := range b.Phis {
				in.clear(phi)
			}
			if !out.equal(liveOut[bid]) || !in.equal(lv.liveIn[bid]) {
				liveOut[bid] = out
				lv.liveIn[bid] = in
				changed = true
			}
		}
	}
	return liveOut
}

// buildIntervals 逐块逆序铺范围
func (lv *Liveness) buildIntervals(g *ir.Graph, liveOut []bitset) {
	order := lv.Num.order
	for i := len(order) - 1; i >= 0; i-- {
		bid := order[i]
		b := g.Block(bid)
		br := lv.Num.blocks[bid]

		liveOut[bid].each(func(v ir.ValueID) {
			lv.interval(v, g.Inst(v).Type).addRange(br.From, br.To)
		})

		for j := len(b.Insts) - 1; j >= 0; j-- {
			vid := b.Insts[j]
			inst := g.Inst(vid)
			if inst.Op == ir.OpNop {
				continue
			}
			pos := lv.Num.defPos[vid]
			if inst.Type != ir.TypeVoid {
				if lv.intervals[vid] != nil {
					lv.intervals[vid].setFrom(pos)
				} else {
					lv.interval(vid, inst.Type).setFrom(pos)
				}
			}
			for _, a := range inst.Args {
				iv := lv.interval(a, g.Inst(a).Type)
				iv.addRange(br.From, pos)
				iv.Uses = append(iv.Uses, pos)
			}
		}

		for _, phi := range b.Phis {
			if lv.intervals[phi] != nil {
				lv.intervals[phi].setFrom(br.From)
			} else {
				lv.interval(phi, g.Inst(phi).Type).setFrom(br.From)
			}
		}

		// Phi 输入使用记在本块出边上
		for _, s := range b.Succs {
			sb := g.Block(s)
			edge := lv.Num.EdgePos(bid)
			for pi, p := range sb.Preds {
				if p != bid {
					continue
				}
				for _, phi := range sb.Phis {
					a := g.Inst(phi).Args[pi]
					iv := lv.interval(a, g.Inst(a).Type)
					iv.addRange(br.From, edge+1)
					iv.Uses = append(iv.Uses, edge)
				}
			}
		}
	}
}

// extendLoopCarried 循环头入口活跃的值铺满整个循环体
func (lv *Liveness) extendLoopCarried(g *ir.Graph) {
	for _, loop := range lv.info.Loops().Loops {
		head := lv.Num.blocks[loop.Header]
		end := head.To
		for _, b := range loop.Blocks {
			if to := lv.Num.blocks[b].To; to > end {
				end = to
			}
		}
		lv.liveIn[loop.Header].each(func(v ir.ValueID) {
			lv.intervals[v].cover(head.From, end)
		})
	}
}

// ============================================================================
// 位集
// ============================================================================

type bitset []uint64

func newBitset(n int) bitset { return make(bitset, (n+63)/64) }

func (s bitset) set(v ir.ValueID)      { s[v/64] |= 1 << uint(v%64) }
func (s bitset) clear(v ir.ValueID)    { s[v/64] &^= 1 << uint(v%64) }
func (s bitset) has(v ir.ValueID) bool { return s[v/64]&(1<<uint(v%64)) != 0 }

func (s bitset) union(o bitset) {
	for i := range o {
		s[i] |= o[i]
	}
}

func (s bitset) clone() bitset {
	out := make(bitset, len(s))
	copy(out, s)
	return out
}

func (s bitset) equal(o bitset) bool {
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

func (s bitset) each(fn func(ir.ValueID)) {
	for i, w := range s {
		for w != 0 {
			fn(ir.ValueID(i*64 + bits.TrailingZeros64(w)))
			w &= w - 1
		}
	}
}

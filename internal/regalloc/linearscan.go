// linearscan.go - 线性扫描寄存器分配
//
// 区间按起点排序后单趟扫描，维护 active（覆盖当前位置）、inactive
// （区间洞里）、handled 三个集合。每个新区间先清算两个集合，再从类
// 内空闲寄存器取一个：
//   - 跨越调用的区间优先拿不被调用破坏的寄存器；只剩被破坏的就拿下
//     并在第一个跨越的调用处拆分，调用前存进栈槽，调用后的剩余段重
//     新排队（取到寄存器时插入重载搬移）。
//   - 空闲寄存器耗尽时走溢出启发式：比较当前区间与同类 active 区间
//     在当前位置之后的下一次使用，最远者让位。被驱逐的区间从当前位
//     置起整体落进栈槽。并列时次序固定：下一次使用并列 → 起点晚者
//     让位（早起者保留）→ 仍并列则值编号小者让位。
//
// 每个值至多占一个栈槽，拆分出的各段共用。固定约定位置与边上的
// Phi 搬移由 resolve.go 的公共收尾衔接。
//
// 文献：Poletto & Sarkar 1999；Wimmer & Mössenböck 2005（区间拆分）。

package regalloc

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/tangzhangming/vega/internal/ir"
)

// LinearScan 线性扫描分配器。面向即时编译的低延迟档位
type LinearScan struct {
	log *zap.Logger
}

// NewLinearScan 创建线性扫描分配器
func NewLinearScan(log *zap.Logger) *LinearScan {
	if log == nil {
		log = zap.NewNop()
	}
	return &LinearScan{log: log}
}

func (a *LinearScan) Name() string { return "linearscan" }

// Allocate 执行分配
func (a *LinearScan) Allocate(g *ir.Graph, lv *Liveness, tgt *Target) (*Allocation, error) {
	if err := tgt.Validate(); err != nil {
		return nil, err
	}
	s := &scanState{
		g: g, lv: lv, tgt: tgt,
		alloc:  newAllocation(tgt, lv.Num),
		slotOf: make(map[ir.ValueID]int32),
		log:    a.log,
	}
	for _, iv := range lv.Intervals() {
		s.enqueue(&scanInterval{iv: iv, reg: NoReg, fromSlot: -1})
	}
	if err := s.run(); err != nil {
		return nil, err
	}
	if err := finishAllocation(g, lv, s.alloc, a.log); err != nil {
		return nil, err
	}
	s.alloc.NumSlots = s.nextSlot
	a.log.Debug("linear scan done",
		zap.String("method", g.Name),
		zap.Int("intervals", len(lv.Intervals())),
		zap.Int32("slots", s.nextSlot))
	return s.alloc, nil
}

// scanInterval 扫描中的一个区间片段
type scanInterval struct {
	iv       *Interval
	reg      Reg   // 已取的寄存器，NoReg 表示片段在栈槽里
	fromSlot int32 // 拆分子段的来源槽，分到寄存器时要插重载；-1 无
}

func (si *scanInterval) float() bool { return si.iv.Type.IsFloat() }

type scanState struct {
	g     *ir.Graph
	lv    *Liveness
	tgt   *Target
	alloc *Allocation
	log   *zap.Logger

	unhandled []*scanInterval // 按 (起点, 值编号) 有序
	active    []*scanInterval
	inactive  []*scanInterval

	slotOf   map[ir.ValueID]int32
	nextSlot int32
}

func (s *scanState) enqueue(si *scanInterval) {
	i := sort.Search(len(s.unhandled), func(i int) bool {
		a, b := s.unhandled[i], si
		if a.iv.Start() != b.iv.Start() {
			return a.iv.Start() > b.iv.Start()
		}
		return a.iv.Value > b.iv.Value
	})
	s.unhandled = append(s.unhandled, nil)
	copy(s.unhandled[i+1:], s.unhandled[i:])
	s.unhandled[i] = si
}

func (s *scanState) slot(v ir.ValueID) int32 {
	if sl, ok := s.slotOf[v]; ok {
		return sl
	}
	sl := s.nextSlot
	s.nextSlot++
	s.slotOf[v] = sl
	return sl
}

func (s *scanState) run() error {
	for len(s.unhandled) > 0 {
		cur := s.unhandled[0]
		s.unhandled = s.unhandled[1:]
		pos := cur.iv.Start()

		s.retire(pos)

		if r, ok := s.pickFree(cur, pos); ok {
			s.take(cur, r, pos)
			continue
		}
		if err := s.allocBlocked(cur, pos); err != nil {
			return err
		}
	}
	// 收尾：剩余片段落账
	for _, si := range s.active {
		s.record(si)
	}
	for _, si := range s.inactive {
		s.record(si)
	}
	return nil
}

// retire 清算 active/inactive 相对 pos 的状态
func (s *scanState) retire(pos int32) {
	keep := s.active[:0]
	for _, si := range s.active {
		switch {
		case si.iv.End() <= pos:
			s.record(si)
		case !si.iv.Covers(pos):
			s.inactive = append(s.inactive, si)
		default:
			keep = append(keep, si)
		}
	}
	s.active = keep

	keepIn := s.inactive[:0]
	for _, si := range s.inactive {
		switch {
		case si.iv.End() <= pos:
			s.record(si)
		case si.iv.Covers(pos):
			s.active = append(s.active, si)
		default:
			keepIn = append(keepIn, si)
		}
	}
	s.inactive = keepIn
}

// record 把片段的范围按当前位置落进结果
func (s *scanState) record(si *scanInterval) {
	loc := Location{Kind: LocStack, Index: s.slotOf[si.iv.Value]}
	if si.reg != NoReg {
		loc = regLoc(si.iv.Type, si.reg)
	}
	for _, r := range si.iv.Ranges {
		s.alloc.assign(si.iv.Value, r, loc)
	}
}

// pickFree 找类内空闲寄存器。跨调用区间优先被调方保存的寄存器
func (s *scanState) pickFree(cur *scanInterval, pos int32) (Reg, bool) {
	regs := s.tgt.allocatable(cur.float())
	if len(regs) == 0 {
		return NoReg, false
	}
	busy := make(map[Reg]bool, len(regs))
	for _, si := range s.active {
		if si.float() == cur.float() && si.reg != NoReg {
			busy[si.reg] = true
		}
	}
	for _, si := range s.inactive {
		if si.float() == cur.float() && si.reg != NoReg && cur.iv.Intersects(si.iv) {
			busy[si.reg] = true
		}
	}

	crossing := s.nextCallCrossing(cur.iv, pos)
	var fallback = NoReg
	for _, r := range regs {
		if busy[r] {
			continue
		}
		clob := s.tgt.Clobbered(regLoc(cur.iv.Type, r))
		if crossing != NoPos && !clob {
			return r, true // 跨调用且能整段幸存
		}
		if crossing == NoPos && clob {
			return r, true // 不跨调用，把被调方保存的留给需要的人
		}
		if fallback == NoReg {
			fallback = r
		}
	}
	return fallback, fallback != NoReg
}

// take 把寄存器交给区间；拿到被破坏寄存器又跨调用时先拆分
func (s *scanState) take(cur *scanInterval, r Reg, pos int32) {
	if c := s.nextCallCrossing(cur.iv, pos); c != NoPos && s.tgt.Clobbered(regLoc(cur.iv.Type, r)) {
		s.splitAtCall(cur, c, r)
	}
	cur.reg = r
	if cur.fromSlot >= 0 {
		s.alloc.addMove(Move{
			Pos: cur.iv.Start(), Type: cur.iv.Type,
			From: Location{Kind: LocStack, Index: cur.fromSlot},
			To:   regLoc(cur.iv.Type, r),
		})
		cur.fromSlot = -1
	}
	s.active = append(s.active, cur)
}

// nextCallCrossing 第一个被区间覆盖、且严格晚于 from 的调用位置
func (s *scanState) nextCallCrossing(iv *Interval, from int32) int32 {
	for _, c := range s.lv.Num.Calls(from, iv.End()) {
		if iv.Covers(c) {
			return c
		}
	}
	return NoPos
}

// splitAtCall 在调用 c 处拆分：调用前从寄存器 r 存槽，调用点上值在
// 槽里（栈图据此取根），调用后的余段重新排队
func (s *scanState) splitAtCall(cur *scanInterval, c int32, r Reg) {
	v := cur.iv.Value
	sl := s.slot(v)
	slotLoc := Location{Kind: LocStack, Index: sl}

	child := &Interval{Value: v, Type: cur.iv.Type,
		Ranges: clipRanges(cur.iv.Ranges, c+1, NoPos),
		Uses:   clipUses(cur.iv.Uses, c+1),
	}
	cur.iv = &Interval{Value: v, Type: cur.iv.Type,
		Ranges: clipRanges(cur.iv.Ranges, NoPos, c),
		Uses:   clipUsesBelow(cur.iv.Uses, c),
	}

	s.alloc.assign(v, Range{From: c, To: c + 1}, slotLoc)
	s.alloc.addMove(Move{Pos: c, Type: cur.iv.Type, From: regLoc(cur.iv.Type, r), To: slotLoc})

	if len(child.Ranges) > 0 {
		s.enqueue(&scanInterval{iv: child, reg: NoReg, fromSlot: sl})
	}
}

func clipRanges(rs []Range, from, to int32) []Range {
	var out []Range
	for _, r := range rs {
		lo, hi := r.From, r.To
		if from != NoPos && lo < from {
			lo = from
		}
		if to != NoPos && hi > to {
			hi = to
		}
		if lo < hi {
			out = append(out, Range{From: lo, To: hi})
		}
	}
	return out
}

func clipUses(uses []int32, from int32) []int32 {
	var out []int32
	for _, u := range uses {
		if u >= from {
			out = append(out, u)
		}
	}
	return out
}

func clipUsesBelow(uses []int32, below int32) []int32 {
	var out []int32
	for _, u := range uses {
		if u < below {
			out = append(out, u)
		}
	}
	return out
}

// allocBlocked 无空闲寄存器：最远下次使用者让位
func (s *scanState) allocBlocked(cur *scanInterval, pos int32) error {
	regs := s.tgt.allocatable(cur.float())
	if len(regs) == 0 {
		return fmt.Errorf("no registers in class for v%d: %w", cur.iv.Value, ErrInfeasible)
	}

	curNext := useDist(cur.iv.NextUseAfter(pos))
	var victim *scanInterval
	victimIdx := -1
	for i, si := range s.active {
		if si.float() != cur.float() {
			continue
		}
		if victim == nil || evictBefore(si, victim, pos) {
			victim = si
			victimIdx = i
		}
	}

	if victim == nil || useDist(victim.iv.NextUseAfter(pos)) <= curNext {
		// 当前区间自己溢出：整体落槽
		s.spillAll(cur)
		return nil
	}

	s.log.Debug("evicting interval",
		zap.Int32("victim", int32(victim.iv.Value)),
		zap.Int32("for", int32(cur.iv.Value)),
		zap.Int32("pos", pos))

	r := victim.reg
	s.evict(victim, pos)
	s.active = append(s.active[:victimIdx], s.active[victimIdx+1:]...)
	s.take(cur, r, pos)
	return nil
}

// evictBefore a 是否比 b 更该让位：下次使用更远 → 起点更晚 → 编号更小
func evictBefore(a, b *scanInterval, pos int32) bool {
	an, bn := useDist(a.iv.NextUseAfter(pos)), useDist(b.iv.NextUseAfter(pos))
	if an != bn {
		return an > bn
	}
	if a.iv.Start() != b.iv.Start() {
		return a.iv.Start() > b.iv.Start()
	}
	return a.iv.Value < b.iv.Value
}

// useDist 无后续使用视作无穷远
func useDist(u int32) int64 {
	if u == NoPos {
		return int64(1) << 40
	}
	return int64(u)
}

// evict 从 pos 起把区间余下部分赶进栈槽
func (s *scanState) evict(victim *scanInterval, pos int32) {
	v := victim.iv.Value
	sl := s.slot(v)
	slotLoc := Location{Kind: LocStack, Index: sl}
	regPart := clipRanges(victim.iv.Ranges, NoPos, pos)
	slotPart := clipRanges(victim.iv.Ranges, pos, NoPos)
	for _, r := range regPart {
		s.alloc.assign(v, r, regLoc(victim.iv.Type, victim.reg))
	}
	for _, r := range slotPart {
		s.alloc.assign(v, r, slotLoc)
	}
	s.alloc.addMove(Move{Pos: pos, Type: victim.iv.Type,
		From: regLoc(victim.iv.Type, victim.reg), To: slotLoc})
}

// spillAll 区间整体落槽
func (s *scanState) spillAll(cur *scanInterval) {
	v := cur.iv.Value
	sl := s.slot(v)
	loc := Location{Kind: LocStack, Index: sl}
	if cur.fromSlot >= 0 {
		// 拆分子段本来就在这个槽里，不需要搬移
		cur.fromSlot = -1
	}
	for _, r := range cur.iv.Ranges {
		s.alloc.assign(v, r, loc)
	}
}

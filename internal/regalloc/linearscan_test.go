// linearscan_test.go - 线性扫描分配器测试

package regalloc

import (
	"reflect"
	"testing"

	"github.com/tangzhangming/vega/internal/ir"
)

// testTarget 3 个可分配通用寄存器（r3 为暂存），r0/r1 被调用破坏
func testTarget() *Target {
	return &Target{
		Name: "test", NumGP: 4, NumFP: 2,
		GPClobbered: 0b0011,
		ParamRegs:   []Reg{0, 1},
		RetReg:      0,
		FRetReg:     0,
		ScratchGP:   3,
		ScratchFP:   1,
		GPNames:     []string{"r0", "r1", "r2", "r3"},
	}
}

// verifyAllocation 分配器正确性义务：
//   - 每个区间每次使用前一刻都有已知位置；
//   - 同一物理位置上的片段范围互不重叠（搬移相关的 Phi/输入除外）。
func verifyAllocation(t *testing.T, g *ir.Graph, lv *Liveness, alloc *Allocation) {
	t.Helper()
	for _, iv := range lv.Intervals() {
		for _, u := range iv.Uses {
			if alloc.At(iv.Value, u-1) == NoLocation {
				t.Errorf("v%d has no location before use at %d", iv.Value, u)
			}
		}
	}
	related := phiRelated(g)
	for i := 0; i < len(alloc.Assignments); i++ {
		for j := i + 1; j < len(alloc.Assignments); j++ {
			a, b := alloc.Assignments[i], alloc.Assignments[j]
			if a.Value == b.Value || a.Loc != b.Loc || !a.Range.Overlaps(b.Range) {
				continue
			}
			if related[[2]ir.ValueID{a.Value, b.Value}] || related[[2]ir.ValueID{b.Value, a.Value}] {
				continue
			}
			t.Errorf("v%d and v%d share %s over overlapping ranges %v %v",
				a.Value, b.Value, a.Loc, a.Range, b.Range)
		}
	}
}

func phiRelated(g *ir.Graph) map[[2]ir.ValueID]bool {
	out := make(map[[2]ir.ValueID]bool)
	for b := 0; b < g.NumBlocks(); b++ {
		for _, phi := range g.Block(ir.BlockID(b)).Phis {
			for _, a := range g.Inst(phi).Args {
				out[[2]ir.ValueID{phi, a}] = true
			}
		}
	}
	return out
}

// buildPressure 四个同时活跃的值对三个寄存器。使用次序安排成
// c2 的下一次使用最远（也最少），两种分配器都该让 c2 落槽
//
//	c0 c1 c2 c3 依次定义；t2 用 c3，t3 最后才用 c2
func buildPressure(t *testing.T) (g *ir.Graph, c [4]ir.ValueID) {
	t.Helper()
	g = ir.NewGraph("pressure", 1)
	b := g.NewBlock()
	for k := 0; k < 4; k++ {
		c[k] = g.NewConst(b, ir.TypeInt, int64(k))
	}
	t0 := g.NewInst(b, ir.OpAdd, ir.TypeInt, c[0], c[0])
	t1 := g.NewInst(b, ir.OpAdd, ir.TypeInt, c[1], c[1])
	t2 := g.NewInst(b, ir.OpAdd, ir.TypeInt, c[3], c[3])
	t3 := g.NewInst(b, ir.OpAdd, ir.TypeInt, c[2], c[2])
	u1 := g.NewInst(b, ir.OpAdd, ir.TypeInt, t0, t1)
	u2 := g.NewInst(b, ir.OpAdd, ir.TypeInt, u1, t2)
	u3 := g.NewInst(b, ir.OpAdd, ir.TypeInt, u2, t3)
	g.NewInst(b, ir.OpReturn, ir.TypeVoid, u3)
	return g, c
}

// TestLinearScanSpillsFarthestNextUse 寄存器耗尽时最远使用者让位
func TestLinearScanSpillsFarthestNextUse(t *testing.T) {
	g, c := buildPressure(t)
	lv := liveness(t, g)
	alloc, err := NewLinearScan(nil).Allocate(g, lv, testTarget())
	if err != nil {
		t.Fatal(err)
	}
	verifyAllocation(t, g, lv, alloc)

	// c2 在 c3 定义处被驱逐：从那里起落在栈槽
	evictPos := lv.Num.DefPos(c[3])
	if loc := alloc.At(c[2], evictPos); loc.Kind != LocStack {
		t.Errorf("c2 at %d in %s, want stack slot", evictPos, loc)
	}
	// 驱逐前在寄存器里
	if loc := alloc.At(c[2], evictPos-1); !loc.IsReg() {
		t.Errorf("c2 before eviction in %s, want register", loc)
	}
	// 其余三个全程在寄存器
	for _, v := range []ir.ValueID{c[0], c[1], c[3]} {
		for _, as := range alloc.Fragments(v) {
			if !as.Loc.IsReg() {
				t.Errorf("v%d spilled to %s, want register", v, as.Loc)
			}
		}
	}
	// 驱逐存储搬移存在
	found := false
	for _, m := range alloc.Moves {
		if m.Pos == evictPos && m.To.Kind == LocStack && m.From.IsReg() {
			found = true
		}
	}
	if !found {
		t.Error("eviction store move missing")
	}
}

// TestLinearScanTieBreak 下次使用并列时起点晚者让位
func TestLinearScanTieBreak(t *testing.T) {
	g := ir.NewGraph("tie", 1)
	b := g.NewBlock()
	c0 := g.NewConst(b, ir.TypeInt, 0) // pos 2
	c1 := g.NewConst(b, ir.TypeInt, 1) // pos 4
	c2 := g.NewConst(b, ir.TypeInt, 2) // pos 6
	c3 := g.NewConst(b, ir.TypeInt, 3) // pos 8: 第四个活跃值
	u0 := g.NewInst(b, ir.OpAdd, ir.TypeInt, c2, c3)
	u1 := g.NewInst(b, ir.OpAdd, ir.TypeInt, c0, c1) // c0/c1 并列的下次使用
	u2 := g.NewInst(b, ir.OpAdd, ir.TypeInt, u0, u1)
	g.NewInst(b, ir.OpReturn, ir.TypeVoid, u2)

	lv := liveness(t, g)
	alloc, err := NewLinearScan(nil).Allocate(g, lv, testTarget())
	if err != nil {
		t.Fatal(err)
	}
	verifyAllocation(t, g, lv, alloc)

	evictPos := lv.Num.DefPos(c3)
	if loc := alloc.At(c1, evictPos); loc.Kind != LocStack {
		t.Errorf("later-started c1 at %s, want stack slot", loc)
	}
	if loc := alloc.At(c0, evictPos); !loc.IsReg() {
		t.Errorf("earlier-started c0 at %s, want register", loc)
	}
}

// TestLinearScanSplitsAcrossCall 跨调用区间在调用处拆分：
// 调用前存槽、调用点在槽、调用后重载
func TestLinearScanSplitsAcrossCall(t *testing.T) {
	g := ir.NewGraph("call", 1)
	b := g.NewBlock()
	v := g.NewConst(b, ir.TypeInt, 7)
	call := g.NewInst(b, ir.OpInvokeStatic, ir.TypeInt)
	u := g.NewInst(b, ir.OpAdd, ir.TypeInt, v, v)
	sum := g.NewInst(b, ir.OpAdd, ir.TypeInt, u, call)
	g.NewInst(b, ir.OpReturn, ir.TypeVoid, sum)

	// 全部可分配寄存器都被调用破坏，拆分不可避免
	tgt := testTarget()
	tgt.GPClobbered = 0b0111

	lv := liveness(t, g)
	alloc, err := NewLinearScan(nil).Allocate(g, lv, tgt)
	if err != nil {
		t.Fatal(err)
	}
	verifyAllocation(t, g, lv, alloc)

	callPos := lv.Num.DefPos(call)
	if loc := alloc.At(v, callPos); loc.Kind != LocStack {
		t.Fatalf("v across call in %s, want stack slot", loc)
	}
	var store, reload bool
	for _, m := range alloc.Moves {
		if m.Pos == callPos && m.From.IsReg() && m.To.Kind == LocStack {
			store = true
		}
		if m.Pos == callPos+1 && m.From.Kind == LocStack && m.To.IsReg() {
			reload = true
		}
	}
	if !store || !reload {
		t.Errorf("store=%v reload=%v, want both", store, reload)
	}
}

// TestLinearScanCalleeSavedSkipsSplit 有被调方保存的寄存器时不拆分
func TestLinearScanCalleeSavedSkipsSplit(t *testing.T) {
	g := ir.NewGraph("call2", 1)
	b := g.NewBlock()
	v := g.NewConst(b, ir.TypeInt, 7)
	call := g.NewInst(b, ir.OpInvokeStatic, ir.TypeInt)
	u := g.NewInst(b, ir.OpAdd, ir.TypeInt, v, call)
	g.NewInst(b, ir.OpReturn, ir.TypeVoid, u)

	lv := liveness(t, g)
	alloc, err := NewLinearScan(nil).Allocate(g, lv, testTarget()) // r2 不被破坏
	if err != nil {
		t.Fatal(err)
	}
	verifyAllocation(t, g, lv, alloc)

	loc := alloc.At(v, lv.Num.DefPos(call))
	if !loc.IsReg() || testTarget().Clobbered(loc) {
		t.Errorf("v across call in %s, want callee-saved register", loc)
	}
}

// TestLinearScanSwapAtBackEdge 回边上的双 Phi 互换经暂存解环
func TestLinearScanSwapAtBackEdge(t *testing.T) {
	g := ir.NewGraph("swap", 1)
	b0 := g.NewBlock()
	b1 := g.NewBlock()
	b2 := g.NewBlock()
	b3 := g.NewBlock()
	g.AddEdge(b0, b1)
	g.AddEdge(b1, b2)
	g.AddEdge(b1, b3)
	g.AddEdge(b2, b1)

	a := g.NewConst(b0, ir.TypeInt, 1)
	c := g.NewConst(b0, ir.TypeInt, 2)
	g.NewInst(b0, ir.OpGoto, ir.TypeVoid)
	x := g.NewPhi(b1, ir.TypeInt, a, ir.NoValue)
	y := g.NewPhi(b1, ir.TypeInt, c, ir.NoValue)
	lt := g.NewInst(b1, ir.OpLt, ir.TypeInt, x, y)
	g.NewInst(b1, ir.OpIf, ir.TypeVoid, lt)
	g.NewInst(b2, ir.OpGoto, ir.TypeVoid)
	g.SetArg(x, 1, y)
	g.SetArg(y, 1, x)
	g.NewInst(b3, ir.OpReturn, ir.TypeVoid, x)

	lv := liveness(t, g)
	tgt := testTarget()
	alloc, err := NewLinearScan(nil).Allocate(g, lv, tgt)
	if err != nil {
		t.Fatal(err)
	}
	verifyAllocation(t, g, lv, alloc)

	var back *EdgeMoves
	for i := range alloc.Edges {
		if alloc.Edges[i].Pred == b2 && alloc.Edges[i].Succ == b1 {
			back = &alloc.Edges[i]
		}
	}
	if back == nil {
		t.Fatal("no moves on the back edge")
	}
	if len(back.Moves) != 3 {
		t.Fatalf("swap on back edge = %v, want 3 moves via scratch", back.Moves)
	}
	if back.Moves[0].To != tgt.Scratch(ir.TypeInt) {
		t.Errorf("cycle not broken through scratch: %v", back.Moves)
	}
}

// TestLinearScanDeterministic 相同输入两次分配结果逐字节一致
func TestLinearScanDeterministic(t *testing.T) {
	run := func() *Allocation {
		g, _ := buildPressure(t)
		lv := liveness(t, g)
		alloc, err := NewLinearScan(nil).Allocate(g, lv, testTarget())
		if err != nil {
			t.Fatal(err)
		}
		return alloc
	}
	a, b := run(), run()
	if !reflect.DeepEqual(a.Assignments, b.Assignments) {
		t.Error("assignments differ between identical runs")
	}
	if !reflect.DeepEqual(a.Moves, b.Moves) || !reflect.DeepEqual(a.Edges, b.Edges) {
		t.Error("moves differ between identical runs")
	}
}

// inline_test.go - 锐化与内联测试

package opt

import (
	"testing"

	"github.com/tangzhangming/vega/internal/analysis"
	"github.com/tangzhangming/vega/internal/ir"
)

// fakeResolver 测试用解析器：按句柄返回新建的被调图
type fakeResolver struct {
	mono    map[int32]int32            // 虚调用 → 单态目标
	callees map[int32]func() *ir.Graph // 每次调用新建图
}

func (r *fakeResolver) Monomorphic(h int32) (int32, bool) {
	t, ok := r.mono[h]
	return t, ok
}

func (r *fakeResolver) Exact(_, h int32) (int32, bool) {
	t, ok := r.mono[h]
	return t, ok
}

func (r *fakeResolver) Callee(h int32) (*CalleeInfo, bool) {
	mk, ok := r.callees[h]
	if !ok {
		return nil, false
	}
	g := mk()
	return &CalleeInfo{Graph: g, Size: g.NumValues()}, true
}

// squareGraph 构造 int square(int x) { return x*x; }
func squareGraph() *ir.Graph {
	g := ir.NewGraph("square", 100)
	b := g.NewBlock()
	x := g.NewInst(b, ir.OpParam, ir.TypeInt)
	g.Inst(x).Aux = 0
	m := g.NewInst(b, ir.OpMul, ir.TypeInt, x, x)
	g.NewInst(b, ir.OpReturn, ir.TypeVoid, m)
	return g
}

// absGraph 构造 int abs(int x)，双返回路径
func absGraph() *ir.Graph {
	g := ir.NewGraph("abs", 101)
	b0 := g.NewBlock()
	b1 := g.NewBlock()
	b2 := g.NewBlock()
	g.AddEdge(b0, b1)
	g.AddEdge(b0, b2)
	x := g.NewInst(b0, ir.OpParam, ir.TypeInt)
	g.Inst(x).Aux = 0
	zero := g.NewConst(b0, ir.TypeInt, 0)
	lt := g.NewInst(b0, ir.OpLt, ir.TypeInt, x, zero)
	g.NewInst(b0, ir.OpIf, ir.TypeVoid, lt)
	neg := g.NewInst(b1, ir.OpNeg, ir.TypeInt, x)
	g.NewInst(b1, ir.OpReturn, ir.TypeVoid, neg)
	g.NewInst(b2, ir.OpReturn, ir.TypeVoid, x)
	return g
}

// callerGraph 构造调用 handle=7 两次的方法
func callerGraph() (*ir.Graph, ir.ValueID, ir.ValueID) {
	g := ir.NewGraph("caller", 1)
	b := g.NewBlock()
	p := g.NewInst(b, ir.OpParam, ir.TypeInt)
	g.Inst(p).Aux = 0
	c1 := g.NewInst(b, ir.OpInvokeStatic, ir.TypeInt, p)
	g.Inst(c1).Handle = 7
	g.Inst(c1).BCPos = 4
	c2 := g.NewInst(b, ir.OpInvokeStatic, ir.TypeInt, p)
	g.Inst(c2).Handle = 7
	g.Inst(c2).BCPos = 8
	sum := g.NewInst(b, ir.OpAdd, ir.TypeInt, c1, c2)
	g.NewInst(b, ir.OpReturn, ir.TypeVoid, sum)
	return g, c1, c2
}

// TestInlineSingleReturn 测试单返回被调方法的内联
func TestInlineSingleReturn(t *testing.T) {
	g, c1, c2 := callerGraph()
	ctx := newCtx(g)
	ctx.Resolver = &fakeResolver{callees: map[int32]func() *ir.Graph{7: squareGraph}}

	if !(Inlining{}).Run(ctx) {
		t.Fatal("no change reported")
	}
	if ctx.InlineStats.InlinedCalls != 2 {
		t.Fatalf("inlined = %d, want 2", ctx.InlineStats.InlinedCalls)
	}
	if g.Inst(c1).Op != ir.OpNop || g.Inst(c2).Op != ir.OpNop {
		t.Error("call instructions not removed")
	}
	if n := countOp(g, ir.OpMul); n != 2 {
		t.Errorf("inlined multiplies = %d, want 2", n)
	}
	// 站点链：两处调用各一个站点
	if len(g.InlineSites) != 2 {
		t.Fatalf("inline sites = %d, want 2", len(g.InlineSites))
	}
	for _, s := range g.InlineSites {
		if s.MethodID != 100 || s.Parent != -1 {
			t.Errorf("bad site: %+v", s)
		}
	}
	if err := ir.Check(g); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := analysis.VerifySSA(g); err != nil {
		t.Fatalf("VerifySSA: %v", err)
	}
}

// TestInlineMultiReturnPhi 测试多返回路径在接续块合成 Phi
func TestInlineMultiReturnPhi(t *testing.T) {
	g := ir.NewGraph("caller2", 1)
	b := g.NewBlock()
	p := g.NewInst(b, ir.OpParam, ir.TypeInt)
	call := g.NewInst(b, ir.OpInvokeStatic, ir.TypeInt, p)
	g.Inst(call).Handle = 8
	g.NewInst(b, ir.OpReturn, ir.TypeVoid, call)

	ctx := newCtx(g)
	ctx.Resolver = &fakeResolver{callees: map[int32]func() *ir.Graph{8: absGraph}}
	if !(Inlining{}).Run(ctx) {
		t.Fatal("no change reported")
	}

	// 返回值现在应当来自双输入 Phi
	var ret *ir.Inst
	for v := 0; v < g.NumValues(); v++ {
		in := g.Inst(ir.ValueID(v))
		if in.Op == ir.OpReturn && len(in.Args) == 1 {
			ret = in
		}
	}
	if ret == nil {
		t.Fatal("return not found")
	}
	phi := g.Inst(ret.Args[0])
	if phi.Op != ir.OpPhi || len(phi.Args) != 2 {
		t.Fatalf("return arg = %s with %d inputs, want 2-input Phi\n%s", phi.Op, len(phi.Args), g)
	}
	if err := analysis.VerifySSA(g); err != nil {
		t.Fatalf("VerifySSA: %v", err)
	}
}

// TestInlineBudgets 测试各预算拒绝路径
func TestInlineBudgets(t *testing.T) {
	t.Run("too big", func(t *testing.T) {
		g, _, _ := callerGraph()
		ctx := newCtx(g)
		ctx.Budget.MaxCalleeSize = 1
		ctx.Resolver = &fakeResolver{callees: map[int32]func() *ir.Graph{7: squareGraph}}
		if (Inlining{}).Run(ctx) {
			t.Error("oversized callee inlined")
		}
		if ctx.InlineStats.SkippedTooBig == 0 {
			t.Error("SkippedTooBig not counted")
		}
	})

	t.Run("growth budget", func(t *testing.T) {
		g, _, _ := callerGraph()
		ctx := newCtx(g)
		ctx.Budget.MaxTotalGrowth = 4 // 只够内联一处
		ctx.Resolver = &fakeResolver{callees: map[int32]func() *ir.Graph{7: squareGraph}}
		(Inlining{}).Run(ctx)
		if ctx.InlineStats.InlinedCalls != 1 || ctx.InlineStats.SkippedGrowth == 0 {
			t.Errorf("stats = %+v, want one inline and one growth skip", ctx.InlineStats)
		}
	})

	t.Run("self recursion", func(t *testing.T) {
		// 方法 1 调用方法 1 自身
		g := ir.NewGraph("rec", 1)
		b := g.NewBlock()
		p := g.NewInst(b, ir.OpParam, ir.TypeInt)
		call := g.NewInst(b, ir.OpInvokeStatic, ir.TypeInt, p)
		g.Inst(call).Handle = 7
		g.NewInst(b, ir.OpReturn, ir.TypeVoid, call)

		self := func() *ir.Graph {
			cg := ir.NewGraph("rec", 1) // MethodID 与调用方相同
			cb := cg.NewBlock()
			cp := cg.NewInst(cb, ir.OpParam, ir.TypeInt)
			cg.NewInst(cb, ir.OpReturn, ir.TypeVoid, cp)
			return cg
		}
		ctx := newCtx(g)
		ctx.Resolver = &fakeResolver{callees: map[int32]func() *ir.Graph{7: self}}
		if (Inlining{}).Run(ctx) {
			t.Error("self-recursive call inlined")
		}
		if ctx.InlineStats.SkippedRecurse == 0 {
			t.Error("SkippedRecurse not counted")
		}
	})
}

// TestSharpenThenInlineThenGVN 单态调用内联后 GVN 消除暴露的重复计算
func TestSharpenThenInlineThenGVN(t *testing.T) {
	// caller: v = recv.m(p); w = p*p; return v+w
	// m 单态解析到 square；内联后 p*p 出现两份，GVN 应合并
	g := ir.NewGraph("devirt", 1)
	b := g.NewBlock()
	recv := g.NewInst(b, ir.OpParam, ir.TypeRef)
	p := g.NewInst(b, ir.OpParam, ir.TypeInt)
	g.Inst(p).Aux = 1
	call := g.NewInst(b, ir.OpInvokeVirtual, ir.TypeInt, recv, p)
	g.Inst(call).Handle = 50
	w := g.NewInst(b, ir.OpMul, ir.TypeInt, p, p)
	sum := g.NewInst(b, ir.OpAdd, ir.TypeInt, call, w)
	g.NewInst(b, ir.OpReturn, ir.TypeVoid, sum)

	// square 的参数是第二个实参：虚调用内联时接收者占 Aux=0
	sq := func() *ir.Graph {
		cg := ir.NewGraph("square", 100)
		cb := cg.NewBlock()
		r := cg.NewInst(cb, ir.OpParam, ir.TypeRef)
		cg.Inst(r).Aux = 0
		x := cg.NewInst(cb, ir.OpParam, ir.TypeInt)
		cg.Inst(x).Aux = 1
		m := cg.NewInst(cb, ir.OpMul, ir.TypeInt, x, x)
		cg.NewInst(cb, ir.OpReturn, ir.TypeVoid, m)
		return cg
	}

	ctx := newCtx(g)
	ctx.Resolver = &fakeResolver{
		mono:    map[int32]int32{50: 60},
		callees: map[int32]func() *ir.Graph{60: sq},
	}

	if !(Sharpening{}).Run(ctx) {
		t.Fatal("virtual call not sharpened")
	}
	if g.Inst(call).Op != ir.OpInvokeStatic || g.Inst(call).Handle != 60 {
		t.Fatalf("call after sharpening: %s #%d", g.Inst(call).Op, g.Inst(call).Handle)
	}
	if !(Inlining{}).Run(ctx) {
		t.Fatal("sharpened call not inlined")
	}
	if !(GlobalValueNumbering{}).Run(ctx) {
		t.Fatal("GVN found nothing after inlining")
	}
	if n := countOp(g, ir.OpMul); n != 1 {
		t.Errorf("multiplies after GVN = %d, want 1:\n%s", n, g)
	}
	if err := analysis.VerifySSA(g); err != nil {
		t.Fatalf("VerifySSA: %v", err)
	}
}

// TestOptimizerTiers 测试层级选择的 Pass 子集
func TestOptimizerTiers(t *testing.T) {
	g, _, _, _, _, _, _, bc := buildArrayLoop(t)
	ctx := newCtx(g)
	stats := NewOptimizer(TierO2).Optimize(ctx)
	if g.Inst(bc).Op != ir.OpNop {
		t.Error("O2 pipeline should eliminate the bounds check")
	}
	if stats.PassesRun == 0 {
		t.Error("no passes recorded")
	}

	// O0 不做任何事
	g2, _, _, _, _, _, _, bc2 := buildArrayLoop(t)
	NewOptimizer(TierO0).Optimize(newCtx(g2))
	if g2.Inst(bc2).Op != ir.OpBoundsCheck {
		t.Error("O0 must not touch the graph")
	}
}

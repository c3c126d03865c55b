// liveness_test.go - 编号与活跃区间测试

package regalloc

import (
	"testing"

	"github.com/tangzhangming/vega/internal/analysis"
	"github.com/tangzhangming/vega/internal/ir"
)

// buildLoop 构造 b0 → b1 ⇄ b2, b1 → b3 的计数循环
//
//	b0: init=0, limit=10
//	b1: i=phi(init, inc); if i<limit
//	b2: inc=i+1; goto b1
//	b3: return i
func buildLoop(t *testing.T) (g *ir.Graph, init, limit, i, inc ir.ValueID) {
	t.Helper()
	g = ir.NewGraph("loop", 1)
	b0 := g.NewBlock()
	b1 := g.NewBlock()
	b2 := g.NewBlock()
	b3 := g.NewBlock()
	g.AddEdge(b0, b1)
	g.AddEdge(b1, b2)
	g.AddEdge(b1, b3)
	g.AddEdge(b2, b1)

	init = g.NewConst(b0, ir.TypeInt, 0)
	limit = g.NewConst(b0, ir.TypeInt, 10)
	g.NewInst(b0, ir.OpGoto, ir.TypeVoid)

	i = g.NewPhi(b1, ir.TypeInt, init, ir.NoValue)
	lt := g.NewInst(b1, ir.OpLt, ir.TypeInt, i, limit)
	g.NewInst(b1, ir.OpIf, ir.TypeVoid, lt)

	inc = g.NewInst(b2, ir.OpAdd, ir.TypeInt, i, g.NewConst(b2, ir.TypeInt, 1))
	g.NewInst(b2, ir.OpGoto, ir.TypeVoid)
	g.SetArg(i, 1, inc)

	g.NewInst(b3, ir.OpReturn, ir.TypeVoid, i)
	return g, init, limit, i, inc
}

func liveness(t *testing.T, g *ir.Graph) *Liveness {
	t.Helper()
	return Compute(g, analysis.NewInfo(g, nil), nil)
}

// TestNumbering 测试线性编号的基本形状
func TestNumbering(t *testing.T) {
	g, init, limit, i, _ := buildLoop(t)
	num := Number(g)

	if num.DefPos(init) >= num.DefPos(limit) {
		t.Error("definition positions out of order")
	}
	// Phi 定义在块首位置
	b1 := g.Inst(i).Block
	if num.DefPos(i) != num.BlockRange(b1).From {
		t.Errorf("phi at %d, block starts %d", num.DefPos(i), num.BlockRange(b1).From)
	}
	if num.EdgePos(0)%2 != 1 {
		t.Error("edge position must be odd")
	}
	if got := num.BlockAt(num.DefPos(limit)); got != g.Inst(limit).Block {
		t.Errorf("BlockAt = b%d, want b%d", got, g.Inst(limit).Block)
	}
}

// TestPhiInputUseOnPredEdge 测试 Phi 输入的使用记在前驱边上
func TestPhiInputUseOnPredEdge(t *testing.T) {
	g, init, _, _, inc := buildLoop(t)
	lv := liveness(t, g)

	b0 := g.Inst(init).Block
	edge := lv.Num.EdgePos(b0)
	iv := lv.Interval(init)
	if iv == nil {
		t.Fatal("init has no interval")
	}
	found := false
	for _, u := range iv.Uses {
		if u == edge {
			found = true
		}
	}
	if !found {
		t.Errorf("init uses %v missing pred-edge position %d", iv.Uses, edge)
	}
	if !iv.Covers(edge) {
		t.Error("init interval does not reach the edge")
	}

	// 回边上的输入同理
	backEdge := lv.Num.EdgePos(g.Inst(inc).Block)
	if !lv.Interval(inc).Covers(backEdge) {
		t.Error("inc interval does not reach the back edge")
	}
}

// TestLoopCarriedWholeBody 循环携带的值覆盖整个循环体
func TestLoopCarriedWholeBody(t *testing.T) {
	g, _, limit, i, inc := buildLoop(t)
	lv := liveness(t, g)

	header := g.Inst(i).Block
	body := g.Inst(inc).Block
	from := lv.Num.BlockRange(header).From
	to := lv.Num.BlockRange(body).To

	for _, v := range []ir.ValueID{i, limit} {
		iv := lv.Interval(v)
		for pos := from; pos < to; pos++ {
			if !iv.Covers(pos) {
				t.Errorf("loop-carried v%d not live at %d", v, pos)
			}
		}
	}
}

// TestLivenessCoversDefToUse 区间覆盖定义到每次使用的路径
func TestLivenessCoversDefToUse(t *testing.T) {
	g, _, _, _, _ := buildLoop(t)
	lv := liveness(t, g)

	for _, iv := range lv.Intervals() {
		def := lv.Num.DefPos(iv.Value)
		if iv.Start() != def {
			t.Errorf("v%d starts at %d, defined at %d", iv.Value, iv.Start(), def)
		}
		for _, u := range iv.Uses {
			if u > def && !iv.Covers(u-1) {
				t.Errorf("v%d not live just before use at %d", iv.Value, u)
			}
		}
	}
}

// TestLiveRefsAtCall 跨越调用的引用值进根集，调用自身结果与末次使用不进
func TestLiveRefsAtCall(t *testing.T) {
	g := ir.NewGraph("refs", 1)
	b := g.NewBlock()
	obj := g.NewInst(b, ir.OpNewObject, ir.TypeRef)
	dead := g.NewInst(b, ir.OpNewObject, ir.TypeRef)
	call := g.NewInst(b, ir.OpInvokeStatic, ir.TypeRef, dead) // dead 的末次使用
	use := g.NewInst(b, ir.OpLoadField, ir.TypeInt, obj)      // obj 跨越调用
	g.NewInst(b, ir.OpReturn, ir.TypeVoid, use)

	lv := liveness(t, g)
	pos := lv.Num.DefPos(call)
	refs := lv.LiveRefsAt(pos)
	if len(refs) != 1 || refs[0] != obj {
		t.Errorf("live refs at call = %v, want [%d]", refs, obj)
	}
}

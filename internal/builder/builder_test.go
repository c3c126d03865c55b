// builder_test.go - 构建器与 SSA 转换测试

package builder

import (
	"errors"
	"testing"

	"github.com/tangzhangming/vega/internal/analysis"
	"github.com/tangzhangming/vega/internal/ir"
)

func mustBuild(t *testing.T, in *MethodInput) *ir.Graph {
	t.Helper()
	g, err := Build(in, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

// TestBuildStraightLine 测试直线代码构建
func TestBuildStraightLine(t *testing.T) {
	// int f(int a) { int x = a + 1; return x; }
	in := &MethodInput{
		Name: "straight", MethodID: 1,
		NumParams: 1, NumLocals: 2,
		LocalTypes: []ir.Type{ir.TypeInt, ir.TypeInt},
		Blocks: []BlockRecord{{
			Code: []InstRecord{
				{Op: ir.OpLoadLocal, Local: 0},                              // 0: a
				{Op: ir.OpConst, Type: ir.TypeInt, Aux: 1},                  // 1
				{Op: ir.OpAdd, Type: ir.TypeInt, Args: []int32{0, 1}},       // 2
				{Op: ir.OpStoreLocal, Local: 1, Args: []int32{2}},           // 3
				{Op: ir.OpLoadLocal, Local: 1},                              // 4
				{Op: ir.OpReturn, Args: []int32{4}},                         // 5
			},
		}},
	}
	g := mustBuild(t, in)

	// 槽访问全部消除，返回值直接使用加法结果
	for v := 0; v < g.NumValues(); v++ {
		op := g.Inst(ir.ValueID(v)).Op
		if op == ir.OpLoadLocal || op == ir.OpStoreLocal {
			t.Fatalf("local slot access survived: v%d", v)
		}
	}
	term := g.Terminator(g.Entry)
	ret := g.Inst(term)
	if ret.Op != ir.OpReturn || g.Inst(ret.Args[0]).Op != ir.OpAdd {
		t.Errorf("return should use add result directly:\n%s", g)
	}
}

// TestBuildDiamondPhi 测试分支合流处的 Phi 放置
func TestBuildDiamondPhi(t *testing.T) {
	// int f(int a) { int x; if (a < 0) x = 1; else x = 2; return x; }
	in := &MethodInput{
		Name: "diamond", MethodID: 2,
		NumParams: 1, NumLocals: 2,
		LocalTypes: []ir.Type{ir.TypeInt, ir.TypeInt},
		Blocks: []BlockRecord{
			{ // b0
				Succs: []int32{1, 2},
				Code: []InstRecord{
					{Op: ir.OpLoadLocal, Local: 0},                        // 0
					{Op: ir.OpConst, Type: ir.TypeInt, Aux: 0},            // 1
					{Op: ir.OpLt, Type: ir.TypeInt, Args: []int32{0, 1}},  // 2
					{Op: ir.OpIf, Args: []int32{2}},                       // 3
				},
			},
			{ // b1: x = 1
				Succs: []int32{3},
				Code: []InstRecord{
					{Op: ir.OpConst, Type: ir.TypeInt, Aux: 1},      // 4
					{Op: ir.OpStoreLocal, Local: 1, Args: []int32{4}}, // 5
					{Op: ir.OpGoto},                                 // 6
				},
			},
			{ // b2: x = 2
				Succs: []int32{3},
				Code: []InstRecord{
					{Op: ir.OpConst, Type: ir.TypeInt, Aux: 2},      // 7
					{Op: ir.OpStoreLocal, Local: 1, Args: []int32{7}}, // 8
					{Op: ir.OpGoto},                                 // 9
				},
			},
			{ // b3: return x
				Code: []InstRecord{
					{Op: ir.OpLoadLocal, Local: 1}, // 10
					{Op: ir.OpReturn, Args: []int32{10}},
				},
			},
		},
	}
	g := mustBuild(t, in)

	merge := g.Block(ir.BlockID(3))
	if len(merge.Phis) != 1 {
		t.Fatalf("merge block has %d phis, want 1:\n%s", len(merge.Phis), g)
	}
	phi := g.Inst(merge.Phis[0])
	if len(phi.Args) != 2 {
		t.Fatalf("phi has %d inputs, want 2", len(phi.Args))
	}
	got := map[int64]bool{}
	for _, a := range phi.Args {
		got[g.Inst(a).Aux] = true
	}
	if !got[1] || !got[2] {
		t.Errorf("phi inputs should be consts 1 and 2:\n%s", g)
	}
}

// TestBuildLoopPhi 测试循环头 Phi 与循环头标记
func TestBuildLoopPhi(t *testing.T) {
	g := mustBuild(t, loopSumInput())

	header := g.Block(ir.BlockID(1))
	if !header.LoopHeader {
		t.Error("loop header not marked")
	}
	// 循环变量 i 与累加值 s 各一个 Phi
	if len(header.Phis) != 2 {
		t.Fatalf("header has %d phis, want 2:\n%s", len(header.Phis), g)
	}
	if err := analysis.VerifySSA(g); err != nil {
		t.Fatalf("VerifySSA: %v", err)
	}
}

// loopSumInput 构造 for (i=0,s=0; i<10; i++) s+=i; return s
func loopSumInput() *MethodInput {
	return &MethodInput{
		Name: "loopsum", MethodID: 3,
		NumParams: 0, NumLocals: 2,
		LocalTypes: []ir.Type{ir.TypeInt, ir.TypeInt}, // 0:i 1:s
		Blocks: []BlockRecord{
			{ // b0: i=0; s=0
				Succs: []int32{1},
				Code: []InstRecord{
					{Op: ir.OpConst, Type: ir.TypeInt, Aux: 0},        // 0
					{Op: ir.OpStoreLocal, Local: 0, Args: []int32{0}}, // 1
					{Op: ir.OpStoreLocal, Local: 1, Args: []int32{0}}, // 2
					{Op: ir.OpGoto},                                   // 3
				},
			},
			{ // b1: if i<10
				Succs: []int32{2, 3},
				Code: []InstRecord{
					{Op: ir.OpLoadLocal, Local: 0},                       // 4
					{Op: ir.OpConst, Type: ir.TypeInt, Aux: 10},          // 5
					{Op: ir.OpLt, Type: ir.TypeInt, Args: []int32{4, 5}}, // 6
					{Op: ir.OpIf, Args: []int32{6}},                      // 7
				},
			},
			{ // b2: s+=i; i++
				Succs: []int32{1},
				Code: []InstRecord{
					{Op: ir.OpLoadLocal, Local: 1},                          // 8
					{Op: ir.OpLoadLocal, Local: 0},                          // 9
					{Op: ir.OpAdd, Type: ir.TypeInt, Args: []int32{8, 9}},   // 10
					{Op: ir.OpStoreLocal, Local: 1, Args: []int32{10}},      // 11
					{Op: ir.OpConst, Type: ir.TypeInt, Aux: 1},              // 12
					{Op: ir.OpAdd, Type: ir.TypeInt, Args: []int32{9, 12}},  // 13
					{Op: ir.OpStoreLocal, Local: 0, Args: []int32{13}},      // 14
					{Op: ir.OpGoto},                                         // 15
				},
			},
			{ // b3: return s
				Code: []InstRecord{
					{Op: ir.OpLoadLocal, Local: 1},       // 16
					{Op: ir.OpReturn, Args: []int32{16}}, // 17
				},
			},
		},
	}
}

// TestBuildRejectsUnsupported 测试不支持构造的拒绝
func TestBuildRejectsUnsupported(t *testing.T) {
	cases := []struct {
		name string
		in   *MethodInput
	}{
		{"empty method", &MethodInput{Name: "m", LocalTypes: []ir.Type{}}},
		{"forward operand", &MethodInput{
			Name: "m", NumLocals: 0, LocalTypes: []ir.Type{},
			Blocks: []BlockRecord{{Code: []InstRecord{
				{Op: ir.OpNeg, Type: ir.TypeInt, Args: []int32{5}},
				{Op: ir.OpReturn},
			}}},
		}},
		{"if with one successor", &MethodInput{
			Name: "m", NumLocals: 0, LocalTypes: []ir.Type{},
			Blocks: []BlockRecord{
				{Succs: []int32{1}, Code: []InstRecord{
					{Op: ir.OpConst, Type: ir.TypeInt, Aux: 1},
					{Op: ir.OpIf, Args: []int32{0}},
				}},
				{Code: []InstRecord{{Op: ir.OpReturn}}},
			},
		}},
		{"local out of range", &MethodInput{
			Name: "m", NumLocals: 1, LocalTypes: []ir.Type{ir.TypeInt},
			Blocks: []BlockRecord{{Code: []InstRecord{
				{Op: ir.OpLoadLocal, Local: 3},
				{Op: ir.OpReturn},
			}}},
		}},
		{"terminator mid-block", &MethodInput{
			Name: "m", NumLocals: 0, LocalTypes: []ir.Type{},
			Blocks: []BlockRecord{{Code: []InstRecord{
				{Op: ir.OpReturn},
				{Op: ir.OpNop},
			}}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Build(tc.in, nil)
			if !errors.Is(err, ErrUnsupported) {
				t.Errorf("err = %v, want ErrUnsupported", err)
			}
		})
	}
}

// TestBuildZeroInitLocal 测试未写入槽位读取类型零值
func TestBuildZeroInitLocal(t *testing.T) {
	in := &MethodInput{
		Name: "zeroinit", MethodID: 4,
		NumParams: 0, NumLocals: 1,
		LocalTypes: []ir.Type{ir.TypeInt},
		Blocks: []BlockRecord{{
			Code: []InstRecord{
				{Op: ir.OpLoadLocal, Local: 0},
				{Op: ir.OpReturn, Args: []int32{0}},
			},
		}},
	}
	g := mustBuild(t, in)
	ret := g.Inst(g.Terminator(g.Entry))
	def := g.Inst(ret.Args[0])
	if def.Op != ir.OpConst || def.Aux != 0 {
		t.Errorf("uninitialized local should read zero const, got %s [%d]", def.Op, def.Aux)
	}
}

// TestBuildWithProvidedLiveness 测试骨架自带活跃集合时的 Phi 剪枝
func TestBuildWithProvidedLiveness(t *testing.T) {
	in := loopSumInput()
	// 与自算结果一致的活跃集合：i、s 在 b1/b2 入口活跃，b3 只有 s
	in.Blocks[0].LiveInLocals = []int32{}
	in.Blocks[1].LiveInLocals = []int32{0, 1}
	in.Blocks[2].LiveInLocals = []int32{0, 1}
	in.Blocks[3].LiveInLocals = []int32{1}

	g := mustBuild(t, in)
	if got := len(g.Block(ir.BlockID(1)).Phis); got != 2 {
		t.Fatalf("header phis = %d, want 2", got)
	}
	if err := ir.Check(g); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

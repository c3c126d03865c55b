// stackmap_test.go - 安全点表测试

package stackmap

import (
	"testing"

	"github.com/tangzhangming/vega/internal/analysis"
	"github.com/tangzhangming/vega/internal/ir"
	"github.com/tangzhangming/vega/internal/regalloc"
)

func testTarget() *regalloc.Target {
	return &regalloc.Target{
		Name: "test", NumGP: 4, NumFP: 2,
		GPClobbered: 0b0011,
		ParamRegs:   []regalloc.Reg{0, 1},
		RetReg:      0, FRetReg: 0,
		ScratchGP: 3, ScratchFP: 1,
	}
}

// buildCallGraph 一个跨调用持有引用的方法。
// 两次分配与一次调用都是安全点，共三条记录
func buildCallGraph(t *testing.T) (g *ir.Graph, obj, call ir.ValueID) {
	t.Helper()
	g = ir.NewGraph("roots", 1)
	b := g.NewBlock()
	obj = g.NewInst(b, ir.OpNewObject, ir.TypeRef)
	dead := g.NewInst(b, ir.OpNewObject, ir.TypeRef)
	call = g.NewInst(b, ir.OpInvokeStatic, ir.TypeInt, dead)
	g.Inst(call).BCPos = 13
	use := g.NewInst(b, ir.OpLoadField, ir.TypeInt, obj)
	sum := g.NewInst(b, ir.OpAdd, ir.TypeInt, call, use)
	g.NewInst(b, ir.OpReturn, ir.TypeVoid, sum)
	return g, obj, call
}

func record(t *testing.T, g *ir.Graph) (*Table, *regalloc.Liveness, *regalloc.Allocation) {
	t.Helper()
	lv := regalloc.Compute(g, analysis.NewInfo(g, nil), nil)
	alloc, err := regalloc.NewLinearScan(nil).Allocate(g, lv, testTarget())
	if err != nil {
		t.Fatal(err)
	}
	tab, err := Record(g, lv, alloc)
	if err != nil {
		t.Fatal(err)
	}
	return tab, lv, alloc
}

func entryAt(t *testing.T, tab *Table, pos int32) *Entry {
	t.Helper()
	for i := range tab.Entries {
		if tab.Entries[i].Pos == pos {
			return &tab.Entries[i]
		}
	}
	t.Fatalf("no safepoint entry at %d", pos)
	return nil
}

// TestRecordCompleteness 每个安全点：活跃引用一个不少，位置与分配一致
func TestRecordCompleteness(t *testing.T) {
	g, obj, call := buildCallGraph(t)
	tab, lv, alloc := record(t, g)

	if len(tab.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(tab.Entries))
	}
	e := entryAt(t, tab, lv.Num.DefPos(call))

	// 跨越调用的引用只有 obj：dead 的最后使用就在调用处，不算
	if len(e.Refs) != 1 || e.Refs[0].Value != obj {
		t.Fatalf("refs = %v, want [v%d]", e.Refs, obj)
	}
	if got, want := e.Refs[0].Loc, alloc.At(obj, e.Pos); got != want {
		t.Errorf("obj recorded at %s, allocator says %s", got, want)
	}
	// 逐安全点核对：活跃分析给出的每个引用都在表里
	for i := range tab.Entries {
		e := &tab.Entries[i]
		for _, ref := range lv.LiveRefsAt(e.Pos) {
			found := false
			for _, r := range e.Refs {
				if r.Value == ref {
					found = true
				}
			}
			if !found {
				t.Errorf("safepoint %d: live reference v%d missing", e.ID, ref)
			}
		}
	}
}

// TestFrameChain 内联站点链展开为外层在前的帧表
func TestFrameChain(t *testing.T) {
	g, _, call := buildCallGraph(t)
	s0 := g.AddInlineSite(-1, 200, 5)
	s1 := g.AddInlineSite(s0, 300, 9)
	g.Inst(call).Site = s1

	tab, lv, _ := record(t, g)
	want := []Frame{{MethodID: 1, BCPos: 5}, {MethodID: 200, BCPos: 9}, {MethodID: 300, BCPos: 13}}
	got := entryAt(t, tab, lv.Num.DefPos(call)).Frames
	if len(got) != len(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	// 未内联的安全点只有方法自身一层
	for _, e := range tab.Entries {
		if e.Pos != lv.Num.DefPos(call) && len(e.Frames) != 1 {
			t.Errorf("safepoint %d frames = %v, want single frame", e.ID, e.Frames)
		}
	}
}

// TestSafepointInstruction 显式轮询点也进表
func TestSafepointInstruction(t *testing.T) {
	g := ir.NewGraph("poll", 1)
	b := g.NewBlock()
	obj := g.NewInst(b, ir.OpNewObject, ir.TypeRef)
	poll := g.NewInst(b, ir.OpSafepoint, ir.TypeVoid)
	use := g.NewInst(b, ir.OpLoadField, ir.TypeInt, obj)
	g.NewInst(b, ir.OpReturn, ir.TypeVoid, use)

	tab, lv, _ := record(t, g)
	e := entryAt(t, tab, lv.Num.DefPos(poll))
	if len(e.Refs) != 1 || e.Refs[0].Value != obj {
		t.Fatalf("poll point refs = %v, want [v%d]", e.Refs, obj)
	}
}

// TestEncodeDecodeRoundTrip 编码后独立解码，内容一致
func TestEncodeDecodeRoundTrip(t *testing.T) {
	g, _, call := buildCallGraph(t)
	s0 := g.AddInlineSite(-1, 200, 5)
	g.Inst(call).Site = s0
	tab, lv, _ := record(t, g)

	if _, err := tab.Encode(); err == nil {
		t.Fatal("encode must fail before native offsets are patched")
	}
	for i := range tab.Entries {
		if err := tab.SetNativeOffset(tab.Entries[i].ID, uint32(0x40+8*i)); err != nil {
			t.Fatal(err)
		}
	}
	if !tab.Complete() {
		t.Fatal("table should be complete")
	}
	buf, err := tab.Encode()
	if err != nil {
		t.Fatal(err)
	}

	dec, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if dec.MethodID != tab.MethodID || len(dec.Entries) != len(tab.Entries) {
		t.Fatalf("decoded table shape mismatch: %+v", dec)
	}
	callEntry := entryAt(t, tab, lv.Num.DefPos(call))
	got := dec.Lookup(callEntry.NativeOffset)
	if got == nil {
		t.Fatal("call safepoint not found by native offset")
	}
	if len(got.Refs) != len(callEntry.Refs) || got.Refs[0].Loc != callEntry.Refs[0].Loc {
		t.Errorf("refs = %v, want %v", got.Refs, callEntry.Refs)
	}
	if got.Refs[0].Value != ir.NoValue {
		t.Errorf("decoded ref keeps value id %d, want NoValue", got.Refs[0].Value)
	}
	if len(got.Frames) != 2 || got.Frames[0] != callEntry.Frames[0] {
		t.Errorf("frames = %v, want %v", got.Frames, callEntry.Frames)
	}
	if dec.Lookup(0x7) != nil {
		t.Error("lookup at unknown offset should miss")
	}
}

// TestDecodeRejectsGarbage 坏输入不会解出半张表
func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Error("empty buffer accepted")
	}
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("short buffer accepted")
	}
	if _, err := Decode([]byte{0x56, 0x47, 0x53, 0x4D, 99}); err == nil {
		t.Error("wrong version accepted")
	}
}

// stackmap.go - 安全点记录
//
// 收集器做精确根扫描、去优化器重建解释器状态的唯一通道。每个安全点
// （调用、显式轮询点、可能分配的位置）记录：
//   - 原始字节码位置与（回填的）本地代码偏移；
//   - 此点上活跃且为对象引用的值及其最终位置——分配器契约保证每个
//     这样的值都有已知位置，缺一个就是正确性事故，这里直接报错；
//   - 内联帧链（外层在前），按方法编号与各层调用字节码位置重建
//     逻辑调用栈。
//
// 表在寄存器分配完成后记录，本地代码偏移由后端在发射时逐个确认
// 回填；全部回填后方可编码落盘。

package stackmap

import (
	"fmt"

	"github.com/segmentio/encoding/json"

	"github.com/tangzhangming/vega/internal/ir"
	"github.com/tangzhangming/vega/internal/regalloc"
)

// NoOffset 本地代码偏移尚未回填
const NoOffset = ^uint32(0)

// Ref 一个活跃引用值与其位置
type Ref struct {
	Value ir.ValueID
	Loc   regalloc.Location
}

// Frame 逻辑调用栈的一层：方法编号与该层的字节码位置
type Frame struct {
	MethodID int32
	BCPos    int32
}

// Entry 一个安全点的完整记录
type Entry struct {
	// ID 安全点编号，方法内稠密递增
	ID int32
	// Pos 线性位置（记录期用，编码不落盘）
	Pos int32
	// NativeOffset 本地代码偏移，后端回填
	NativeOffset uint32
	// Refs 活跃引用值，按值编号升序
	Refs []Ref
	// Frames 内联帧链，外层在前，至少一层（方法自身）
	Frames []Frame
}

// Table 一个方法的安全点表
type Table struct {
	MethodID int32
	Entries  []Entry
}

// Record 按活跃分析与分配结果记录全部安全点。
// 某个活跃引用没有已知位置时报错——那是上游分配器的缺陷
func Record(g *ir.Graph, lv *regalloc.Liveness, alloc *regalloc.Allocation) (*Table, error) {
	t := &Table{MethodID: g.MethodID}
	for _, bid := range lv.Num.Order() {
		for _, v := range g.Block(bid).Insts {
			inst := g.Inst(v)
			if !inst.Op.IsCall() && !inst.Op.IsSafepoint() {
				continue
			}
			pos := lv.Num.DefPos(v)
			e := Entry{
				ID:           int32(len(t.Entries)),
				Pos:          pos,
				NativeOffset: NoOffset,
				Frames:       frameChain(g, inst),
			}
			for _, ref := range lv.LiveRefsAt(pos) {
				loc := alloc.At(ref, pos)
				if loc == regalloc.NoLocation {
					return nil, fmt.Errorf("safepoint %d: live reference v%d has no location", e.ID, ref)
				}
				e.Refs = append(e.Refs, Ref{Value: ref, Loc: loc})
			}
			t.Entries = append(t.Entries, e)
		}
	}
	return t, nil
}

// frameChain 指令的内联站点链展开成外层在前的帧表
func frameChain(g *ir.Graph, inst *ir.Inst) []Frame {
	var sites []int32
	for s := inst.Site; s >= 0; s = g.InlineSites[s].Parent {
		sites = append(sites, s)
	}
	frames := make([]Frame, 0, len(sites)+1)
	// 根方法的位置 = 最外层站点的调用位置；没有内联时就是指令自身
	bc := inst.BCPos
	if len(sites) > 0 {
		bc = g.InlineSites[sites[len(sites)-1]].CallBCPos
	}
	frames = append(frames, Frame{MethodID: g.MethodID, BCPos: bc})
	for i := len(sites) - 1; i >= 0; i-- {
		site := g.InlineSites[sites[i]]
		bc = inst.BCPos
		if i > 0 {
			bc = g.InlineSites[sites[i-1]].CallBCPos
		}
		frames = append(frames, Frame{MethodID: site.MethodID, BCPos: bc})
	}
	return frames
}

// SetNativeOffset 后端为安全点回填本地代码偏移
func (t *Table) SetNativeOffset(id int32, off uint32) error {
	if id < 0 || int(id) >= len(t.Entries) {
		return fmt.Errorf("safepoint %d out of range", id)
	}
	t.Entries[id].NativeOffset = off
	return nil
}

// Complete 是否每个安全点都已拿到本地代码偏移
func (t *Table) Complete() bool {
	for i := range t.Entries {
		if t.Entries[i].NativeOffset == NoOffset {
			return false
		}
	}
	return true
}

// Lookup 按本地代码偏移找安全点
func (t *Table) Lookup(off uint32) *Entry {
	for i := range t.Entries {
		if t.Entries[i].NativeOffset == off {
			return &t.Entries[i]
		}
	}
	return nil
}

// MarshalJSON 诊断输出
func (t *Table) MarshalJSON() ([]byte, error) {
	type refDump struct {
		Value int32  `json:"value"`
		Loc   string `json:"loc"`
	}
	type entryDump struct {
		ID     int32     `json:"id"`
		Offset uint32    `json:"native_offset"`
		Refs   []refDump `json:"refs"`
		Frames []Frame   `json:"frames"`
	}
	out := struct {
		MethodID int32       `json:"method_id"`
		Entries  []entryDump `json:"entries"`
	}{MethodID: t.MethodID}
	for _, e := range t.Entries {
		d := entryDump{ID: e.ID, Offset: e.NativeOffset, Frames: e.Frames}
		for _, r := range e.Refs {
			d.Refs = append(d.Refs, refDump{Value: int32(r.Value), Loc: r.Loc.String()})
		}
		out.Entries = append(out.Entries, d)
	}
	return json.Marshal(out)
}

// alloc.go - 寄存器分配结果契约
//
// 两种分配器（线性扫描、图着色）消费同一份活跃区间，产出同一份
// Allocation：每个值的（区间片段 → 物理位置）指派、块内的溢出/重载/
// 调用约定搬移、以及每条控制流边上已排序的 Phi 搬移。后端与栈图编码
// 器只认这份契约，不关心分配器内部策略。
//
// 调用约定强制的固定位置（参数寄存器、返回寄存器）不参与启发式：
// 分配器把它们建模为指派区间两端的强制搬移，值在固定点上确实位于
// 固定寄存器，可分配区间通过搬移与之衔接。

package regalloc

import (
	"errors"
	"fmt"

	"github.com/segmentio/encoding/json"

	"github.com/tangzhangming/vega/internal/ir"
)

// ErrInfeasible 分配器无法满足硬性约束。按错误设计这是内部缺陷的
// 信号（目标描述自相矛盾等），不是坏输入
var ErrInfeasible = errors.New("allocation infeasible")

// Reg 某个寄存器类内的寄存器编号
type Reg int32

// NoReg 无寄存器
const NoReg Reg = -1

// ============================================================================
// 物理位置
// ============================================================================

// LocKind 位置种类
type LocKind int8

const (
	// LocNone 尚未指派
	LocNone LocKind = iota
	// LocReg 通用寄存器
	LocReg
	// LocFReg 浮点寄存器
	LocFReg
	// LocStack 编译器分配的溢出栈槽
	LocStack
	// LocArg 调用者栈帧里的入参槽（超出参数寄存器的入参）
	LocArg
)

// Location 一个物理位置：某类寄存器或栈槽偏移
type Location struct {
	Kind  LocKind
	Index int32
}

// NoLocation 未指派位置
var NoLocation = Location{Kind: LocNone}

// IsReg 是否寄存器位置
func (l Location) IsReg() bool { return l.Kind == LocReg || l.Kind == LocFReg }

func (l Location) String() string {
	switch l.Kind {
	case LocReg:
		return fmt.Sprintf("r%d", l.Index)
	case LocFReg:
		return fmt.Sprintf("f%d", l.Index)
	case LocStack:
		return fmt.Sprintf("slot%d", l.Index)
	case LocArg:
		return fmt.Sprintf("arg%d", l.Index)
	default:
		return "none"
	}
}

// regLoc 构造寄存器位置，按类型选类
func regLoc(t ir.Type, r Reg) Location {
	if t.IsFloat() {
		return Location{Kind: LocFReg, Index: int32(r)}
	}
	return Location{Kind: LocReg, Index: int32(r)}
}

// ============================================================================
// 目标寄存器文件
// ============================================================================

// Target 分配器可见的目标寄存器文件描述。寄存器按类编号 0..N-1，
// 名字表只服务于调试输出。由 codegen 包的目标描述提供
type Target struct {
	Name  string
	NumGP int
	NumFP int

	// GPClobbered / FPClobbered 调用破坏集合（按位，bit i = 寄存器 i）
	GPClobbered uint64
	FPClobbered uint64

	// ParamRegs / FParamRegs 参数寄存器，按调用约定顺序
	ParamRegs  []Reg
	FParamRegs []Reg

	// RetReg / FRetReg 返回值寄存器
	RetReg  Reg
	FRetReg Reg

	// ScratchGP / ScratchFP 并行搬移保留的暂存寄存器，绝不参与分配
	ScratchGP Reg
	ScratchFP Reg

	GPNames []string
	FPNames []string
}

// Validate 检查目标描述自洽。矛盾的描述是配置缺陷，按 ErrInfeasible 上报
func (t *Target) Validate() error {
	if t.NumGP < 2 {
		return fmt.Errorf("target %s: %d general registers: %w", t.Name, t.NumGP, ErrInfeasible)
	}
	if t.ScratchGP < 0 || int(t.ScratchGP) >= t.NumGP {
		return fmt.Errorf("target %s: scratch register r%d out of range: %w", t.Name, t.ScratchGP, ErrInfeasible)
	}
	if t.NumFP > 0 && (t.ScratchFP < 0 || int(t.ScratchFP) >= t.NumFP) {
		return fmt.Errorf("target %s: scratch register f%d out of range: %w", t.Name, t.ScratchFP, ErrInfeasible)
	}
	for _, r := range t.ParamRegs {
		if r == t.ScratchGP || int(r) >= t.NumGP {
			return fmt.Errorf("target %s: param register r%d conflicts: %w", t.Name, r, ErrInfeasible)
		}
	}
	if t.RetReg == t.ScratchGP || int(t.RetReg) >= t.NumGP {
		return fmt.Errorf("target %s: return register r%d conflicts: %w", t.Name, t.RetReg, ErrInfeasible)
	}
	return nil
}

// allocatable 某类可分配寄存器（剔除暂存）
func (t *Target) allocatable(float bool) []Reg {
	n, scratch := t.NumGP, t.ScratchGP
	if float {
		n, scratch = t.NumFP, t.ScratchFP
	}
	regs := make([]Reg, 0, n)
	for r := Reg(0); int(r) < n; r++ {
		if r != scratch {
			regs = append(regs, r)
		}
	}
	return regs
}

// Clobbered 该位置是否被调用破坏。栈槽天然幸存
func (t *Target) Clobbered(l Location) bool {
	switch l.Kind {
	case LocReg:
		return t.GPClobbered&(1<<uint(l.Index)) != 0
	case LocFReg:
		return t.FPClobbered&(1<<uint(l.Index)) != 0
	}
	return false
}

// Scratch 某类型的搬移暂存位置
func (t *Target) Scratch(ty ir.Type) Location {
	if ty.IsFloat() {
		return Location{Kind: LocFReg, Index: int32(t.ScratchFP)}
	}
	return Location{Kind: LocReg, Index: int32(t.ScratchGP)}
}

// RegName 调试名
func (t *Target) RegName(l Location) string {
	switch {
	case l.Kind == LocReg && int(l.Index) < len(t.GPNames):
		return t.GPNames[l.Index]
	case l.Kind == LocFReg && int(l.Index) < len(t.FPNames):
		return t.FPNames[l.Index]
	}
	return l.String()
}

// ============================================================================
// 分配结果
// ============================================================================

// Assignment 一个值的一个区间片段与其位置。值被调用边界或驱逐拆分
// 时会有多个片段，片段区间互不重叠
type Assignment struct {
	Value ir.ValueID
	Range Range
	Loc   Location
}

// Move 一次位置间搬移。Pos 指向搬移生效的线性位置（恰在该位置的
// 指令之前）
type Move struct {
	Pos  int32
	Type ir.Type
	From Location
	To   Location
}

func (m Move) String() string {
	return fmt.Sprintf("@%d %s <- %s", m.Pos, m.To, m.From)
}

// EdgeMoves 一条控制流边上的搬移序列，已由并行搬移求解器排成
// 安全串行次序。插入点：前驱唯一后继时在前驱末尾，否则在后继开头
// （关键边已在流水线里拆开）
type EdgeMoves struct {
	Pred  ir.BlockID
	Succ  ir.BlockID
	Moves []Move
}

// Allocation 位置指派契约
type Allocation struct {
	Target   *Target
	Num      *Numbering
	NumSlots int32

	// Assignments 全部片段，按 (Value, Range.From) 有序
	Assignments []Assignment
	// Moves 块内搬移（溢出存储、重载、调用约定衔接），按 Pos 有序
	Moves []Move
	// Edges 每条带搬移的边一条记录
	Edges []EdgeMoves

	byValue map[ir.ValueID][]Assignment
}

func newAllocation(tgt *Target, num *Numbering) *Allocation {
	return &Allocation{Target: tgt, Num: num, byValue: make(map[ir.ValueID][]Assignment)}
}

func (a *Allocation) assign(v ir.ValueID, r Range, loc Location) {
	as := Assignment{Value: v, Range: r, Loc: loc}
	a.Assignments = append(a.Assignments, as)
	a.byValue[v] = append(a.byValue[v], as)
}

func (a *Allocation) addMove(m Move) {
	a.Moves = append(a.Moves, m)
}

// At 值 v 在线性位置 pos 的位置。无覆盖片段时返回 NoLocation
func (a *Allocation) At(v ir.ValueID, pos int32) Location {
	for _, as := range a.byValue[v] {
		if as.Range.From <= pos && pos < as.Range.To {
			return as.Loc
		}
	}
	return NoLocation
}

// Fragments 值 v 的全部片段（按起点有序）
func (a *Allocation) Fragments(v ir.ValueID) []Assignment {
	return a.byValue[v]
}

// MarshalJSON 诊断输出
func (a *Allocation) MarshalJSON() ([]byte, error) {
	type frag struct {
		Value int32  `json:"value"`
		From  int32  `json:"from"`
		To    int32  `json:"to"`
		Loc   string `json:"loc"`
	}
	out := struct {
		Target string `json:"target"`
		Slots  int32  `json:"slots"`
		Frags  []frag `json:"assignments"`
	}{Target: a.Target.Name, Slots: a.NumSlots}
	for _, as := range a.Assignments {
		out.Frags = append(out.Frags, frag{
			Value: int32(as.Value), From: as.Range.From, To: as.Range.To, Loc: as.Loc.String(),
		})
	}
	return json.Marshal(out)
}

// Allocator 可插拔分配策略。两种实现消费同一份活跃区间，满足同一
// 份正确性义务：同一物理位置上的片段区间绝不重叠；安全点上每个活跃
// 的引用值都有已知位置
type Allocator interface {
	Name() string
	Allocate(g *ir.Graph, lv *Liveness, tgt *Target) (*Allocation, error)
}

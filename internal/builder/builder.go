// builder.go - 图构建器（阶段一：原始图物化）
//
// 两阶段构建：
//   a) 按输入记录物化基本块与非 SSA 指令，校验指令集支持范围，
//      建边后清理不可达块并标记循环头；
//   b) SSA 转换（ssa.go）：插入 Phi、重命名局部变量槽访问。
//
// 不支持的构造在 SSA 转换之前就拒绝：返回包裹 ErrUnsupported 的
// 错误并且不产出半成品图，由编译单元回退到基线执行路径。
// 后置条件：产出的图通过 ir.Check 与 analysis.VerifySSA。

package builder

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tangzhangming/vega/internal/analysis"
	"github.com/tangzhangming/vega/internal/ir"
)

// ErrUnsupported 输入包含支持范围之外的构造
var ErrUnsupported = errors.New("unsupported construct")

// Builder 图构建器
type Builder struct {
	in     *MethodInput
	g      *ir.Graph
	logger *zap.Logger

	blocks []ir.BlockID  // 输入块下标 → 图块编号
	values []ir.ValueID  // 扁平位置下标 → 值编号
	params []ir.ValueID  // 参数值
}

// Build 从控制流骨架构建 SSA 图
func Build(in *MethodInput, logger *zap.Logger) (*ir.Graph, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Builder{in: in, logger: logger}

	if err := b.validate(); err != nil {
		return nil, err
	}
	if err := b.materialize(); err != nil {
		return nil, err
	}

	b.g.PruneUnreachable()
	analysis.ComputeLoops(b.g, analysis.ComputeDominators(b.g)) // 标记循环头

	if err := convertToSSA(b.g, b.in, b.blocks); err != nil {
		return nil, err
	}

	if err := ir.Check(b.g); err != nil {
		return nil, fmt.Errorf("graph check after build: %w", err)
	}
	if err := analysis.VerifySSA(b.g); err != nil {
		return nil, fmt.Errorf("ssa check after build: %w", err)
	}

	logger.Debug("graph built",
		zap.String("method", in.Name),
		zap.Int("blocks", b.g.NumBlocks()),
		zap.Int("values", b.g.NumValues()))
	return b.g, nil
}

// ============================================================================
// 输入校验
// ============================================================================

func (b *Builder) validate() error {
	in := b.in
	if len(in.Blocks) == 0 {
		return fmt.Errorf("%w: method %s has no blocks", ErrUnsupported, in.Name)
	}
	if len(in.LocalTypes) != in.NumLocals || in.NumParams > in.NumLocals {
		return fmt.Errorf("%w: method %s has inconsistent local slot table", ErrUnsupported, in.Name)
	}

	pos := 0
	for bi, br := range in.Blocks {
		if len(br.Code) == 0 {
			return fmt.Errorf("%w: block %d is empty", ErrUnsupported, bi)
		}
		for ci, rec := range br.Code {
			last := ci == len(br.Code)-1
			if rec.Op.IsTerminator() != last {
				return fmt.Errorf("%w: block %d: terminator placement at %d", ErrUnsupported, bi, ci)
			}
			if err := b.validateRecord(bi, pos, &rec); err != nil {
				return err
			}
			pos++
		}
		if err := b.validateSuccs(bi, &br); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) validateRecord(bi, pos int, rec *InstRecord) error {
	switch rec.Op {
	case ir.OpNop, ir.OpPhi, ir.OpParam:
		// Phi 由 SSA 转换生成，Param 由构建器生成，都不接受外部输入
		return fmt.Errorf("%w: block %d: op %s not accepted from front end", ErrUnsupported, bi, rec.Op)
	case ir.OpLoadLocal, ir.OpStoreLocal:
		if rec.Local < 0 || int(rec.Local) >= b.in.NumLocals {
			return fmt.Errorf("%w: block %d: local slot %d out of range", ErrUnsupported, bi, rec.Local)
		}
	}
	if rec.Op < 0 || rec.Op.String() == "Invalid" {
		return fmt.Errorf("%w: block %d: unknown op %d", ErrUnsupported, bi, int32(rec.Op))
	}
	for _, a := range rec.Args {
		if a < 0 || int(a) >= pos {
			return fmt.Errorf("%w: block %d: operand %d does not reference a prior position", ErrUnsupported, bi, a)
		}
	}
	return nil
}

func (b *Builder) validateSuccs(bi int, br *BlockRecord) error {
	term := br.Code[len(br.Code)-1].Op
	want := -1
	switch term {
	case ir.OpGoto:
		want = 1
	case ir.OpIf:
		want = 2
	case ir.OpReturn, ir.OpThrow:
		want = 0
	}
	if want >= 0 && len(br.Succs) != want {
		return fmt.Errorf("%w: block %d: terminator %s with %d successors", ErrUnsupported, bi, term, len(br.Succs))
	}
	for _, s := range br.Succs {
		if s < 0 || int(s) >= len(b.in.Blocks) {
			return fmt.Errorf("%w: block %d: successor %d out of range", ErrUnsupported, bi, s)
		}
		if s == 0 {
			// 入口块不允许有前驱，回跳入口的骨架由前端先拆块
			return fmt.Errorf("%w: block %d: branch to entry block", ErrUnsupported, bi)
		}
	}
	return nil
}

// ============================================================================
// 物化
// ============================================================================

func (b *Builder) materialize() error {
	in := b.in
	b.g = ir.NewGraph(in.Name, in.MethodID)
	b.g.NumParams = in.NumParams
	b.g.NumLocals = in.NumLocals

	b.blocks = make([]ir.BlockID, len(in.Blocks))
	for i := range in.Blocks {
		b.blocks[i] = b.g.NewBlock()
	}
	for i, br := range in.Blocks {
		for _, s := range br.Succs {
			b.g.AddEdge(b.blocks[i], b.blocks[s])
		}
	}

	// 参数指令置于入口块最前
	entry := b.blocks[0]
	b.params = make([]ir.ValueID, in.NumParams)
	for i := 0; i < in.NumParams; i++ {
		p := b.g.NewInst(entry, ir.OpParam, in.LocalTypes[i])
		b.g.Inst(p).Aux = int64(i)
		b.params[i] = p
	}

	for i, br := range in.Blocks {
		bid := b.blocks[i]
		for _, rec := range br.Code {
			args := make([]ir.ValueID, len(rec.Args))
			for j, a := range rec.Args {
				args[j] = b.values[a]
			}
			typ := rec.Type
			if rec.Op == ir.OpLoadLocal {
				typ = in.LocalTypes[rec.Local]
			}
			v := b.g.NewInst(bid, rec.Op, typ, args...)
			inst := b.g.Inst(v)
			inst.Aux = rec.Aux
			inst.Handle = rec.Handle
			inst.BCPos = rec.BCPos
			switch rec.Op {
			case ir.OpLoadLocal, ir.OpStoreLocal:
				inst.Aux = int64(rec.Local)
			}
			b.values = append(b.values, v)
		}
	}
	return nil
}

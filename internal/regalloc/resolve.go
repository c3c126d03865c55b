// resolve.go - 调用约定衔接与控制流边解析
//
// 两种分配器共用的收尾：
//   1. 固定位置衔接。参数在入口位于约定寄存器（或调用者栈帧的入参
//      槽），调用结果产生在返回寄存器，返回值与调用实参必须送进约定
//      位置——这些是硬约束，这里用强制搬移把它们接到分配器给出的
//      位置上。
//   2. 边解析。区间按线性位置拆片之后，同一个值在一条控制流边两端
//      的位置可能不同；为每条边收集（边端位置不同的活跃值 + Phi
//      输入→Phi）的同时搬移集，交并行求解器排序。关键边已在流水线
//      里拆开，搬移总有唯一落点。

package regalloc

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/tangzhangming/vega/internal/ir"
)

// connectFixed 插入调用约定要求的强制搬移
func connectFixed(g *ir.Graph, lv *Liveness, alloc *Allocation, log *zap.Logger) error {
	tgt := alloc.Target
	num := lv.Num
	// 参数寄存器可能被别的参数的落点占用，入口搬移按并行集求解
	var params []Move
	for _, bid := range num.Order() {
		b := g.Block(bid)
		for _, v := range b.Insts {
			inst := g.Inst(v)
			switch {
			case inst.Op == ir.OpParam:
				m, err := paramMove(lv, alloc, v, inst)
				if err != nil {
					return err
				}
				if m != nil {
					params = append(params, *m)
				}
			case inst.Op.IsCall():
				if err := connectCall(g, lv, alloc, v, inst); err != nil {
					return err
				}
			case inst.Op == ir.OpReturn && len(inst.Args) > 0:
				pos := num.DefPos(v)
				ret := g.Inst(inst.Args[0])
				dst := regLoc(ret.Type, tgt.RetReg)
				if ret.Type.IsFloat() {
					dst = regLoc(ret.Type, tgt.FRetReg)
				}
				// 末次使用的区间终于 pos（半开），读取点在前一刻
				src := alloc.At(inst.Args[0], pos-1)
				if src == NoLocation {
					// 返回值没有分配位置说明上游漏了区间，留下痕迹
					log.Debug("return value has no location, move skipped",
						zap.Int32("value", int32(inst.Args[0])),
						zap.Int32("pos", pos))
				} else if src != dst {
					alloc.addMove(Move{Pos: pos, Type: ret.Type, From: src, To: dst})
				}
			}
		}
	}
	if len(params) > 0 {
		seq, err := ResolveParallel(tgt, params)
		if err != nil {
			return fmt.Errorf("entry parameter shuffle: %w", err)
		}
		// 统一钉在入口块起点，保持求解出的先后次序
		entry := num.BlockRange(num.Order()[0]).From
		for _, m := range seq {
			m.Pos = entry
			alloc.addMove(m)
		}
	}
	return nil
}

// paramMove 入口参数：约定寄存器或入参槽 → 分配位置
func paramMove(lv *Liveness, alloc *Allocation, v ir.ValueID, inst *ir.Inst) (*Move, error) {
	iv := lv.Interval(v)
	if iv == nil {
		return nil, nil // 参数无使用
	}
	src, err := paramHome(alloc.Target, int(inst.Aux), inst.Type)
	if err != nil {
		return nil, err
	}
	pos := lv.Num.DefPos(v)
	dst := alloc.At(v, pos)
	if dst == NoLocation || dst == src {
		return nil, nil
	}
	return &Move{Pos: pos, Type: inst.Type, From: src, To: dst}, nil
}

// paramHome 第 idx 个参数按约定所在的入口位置
func paramHome(tgt *Target, idx int, t ir.Type) (Location, error) {
	regs := tgt.ParamRegs
	if t.IsFloat() {
		regs = tgt.FParamRegs
	}
	if idx < 0 {
		return NoLocation, fmt.Errorf("param index %d: %w", idx, ErrInfeasible)
	}
	if idx < len(regs) {
		return regLoc(t, regs[idx]), nil
	}
	return Location{Kind: LocArg, Index: int32(idx)}, nil
}

// connectCall 调用点：实参装配成并行搬移，结果从返回寄存器接走
func connectCall(g *ir.Graph, lv *Liveness, alloc *Allocation, v ir.ValueID, inst *ir.Inst) error {
	tgt := alloc.Target
	pos := lv.Num.DefPos(v)

	var args []Move
	gp, fp := 0, 0
	for _, a := range inst.Args {
		t := g.Inst(a).Type
		idx := gp
		if t.IsFloat() {
			idx = fp
			fp++
		} else {
			gp++
		}
		dst, err := paramHome(tgt, idx, t)
		if err != nil {
			return err
		}
		src := alloc.At(a, pos-1)
		if src == NoLocation {
			return fmt.Errorf("call argument v%d has no location at %d: %w", a, pos, ErrInfeasible)
		}
		args = append(args, Move{Pos: pos, Type: t, From: src, To: dst})
	}
	seq, err := ResolveParallel(tgt, args)
	if err != nil {
		return err
	}
	for _, m := range seq {
		alloc.addMove(m)
	}

	if inst.Type != ir.TypeVoid {
		if dst := alloc.At(v, pos); dst != NoLocation {
			src := regLoc(inst.Type, tgt.RetReg)
			if inst.Type.IsFloat() {
				src = regLoc(inst.Type, tgt.FRetReg)
			}
			if src != dst {
				// 结果搬移生效在调用之后的奇数位
				alloc.addMove(Move{Pos: pos + 1, Type: inst.Type, From: src, To: dst})
			}
		}
	}
	return nil
}

// resolveEdges 逐边收集位置差异并排序
func resolveEdges(g *ir.Graph, lv *Liveness, alloc *Allocation) error {
	num := lv.Num
	for _, p := range num.Order() {
		pb := g.Block(p)
		for _, s := range pb.Succs {
			edge := num.EdgePos(p)
			entry := num.BlockRange(s).From
			var moves []Move

			// 后继入口活跃的值：两端位置不一致则搬
			lv.liveIn[s].each(func(v ir.ValueID) {
				from := alloc.At(v, edge)
				to := alloc.At(v, entry)
				if from != NoLocation && to != NoLocation && from != to {
					moves = append(moves, Move{Pos: edge, Type: g.Inst(v).Type, From: from, To: to})
				}
			})

			// Phi 输入 → Phi
			sb := g.Block(s)
			for pi, pred := range sb.Preds {
				if pred != p {
					continue
				}
				for _, phi := range sb.Phis {
					if lv.Interval(phi) == nil {
						continue
					}
					arg := g.Inst(phi).Args[pi]
					from := alloc.At(arg, edge)
					to := alloc.At(phi, entry)
					if from == NoLocation || to == NoLocation {
						return fmt.Errorf("phi v%d edge b%d->b%d missing location: %w", phi, p, s, ErrInfeasible)
					}
					if from != to {
						moves = append(moves, Move{Pos: edge, Type: g.Inst(phi).Type, From: from, To: to})
					}
				}
			}

			if len(moves) == 0 {
				continue
			}
			seq, err := ResolveParallel(alloc.Target, moves)
			if err != nil {
				return fmt.Errorf("edge b%d->b%d: %w", p, s, err)
			}
			alloc.Edges = append(alloc.Edges, EdgeMoves{Pred: p, Succ: s, Moves: seq})
		}
	}
	return nil
}

// finishAllocation 两种分配器共同的收尾次序
func finishAllocation(g *ir.Graph, lv *Liveness, alloc *Allocation, log *zap.Logger) error {
	if err := connectFixed(g, lv, alloc, log); err != nil {
		return err
	}
	if err := resolveEdges(g, lv, alloc); err != nil {
		return err
	}
	sort.SliceStable(alloc.Moves, func(i, j int) bool { return alloc.Moves[i].Pos < alloc.Moves[j].Pos })
	sort.Slice(alloc.Assignments, func(i, j int) bool {
		a, b := alloc.Assignments[i], alloc.Assignments[j]
		if a.Value != b.Value {
			return a.Value < b.Value
		}
		return a.Range.From < b.Range.From
	})
	return nil
}

// moves.go - 并行搬移求解
//
// 一组语义上同时生效的位置搬移（块边上的 Phi 衔接、调用实参装配）
// 要排成安全的串行序列：任何位置在被读完之前不得被覆盖。做法是按
// 依赖关系反复提取"目的地不是别的搬移来源"的搬移；提取不动时说明
// 剩下的搬移构成置换环（典型如两寄存器互换），取环上一条搬移把来源
// 先挪进保留的暂存位置、重定向环内对该来源的读取，环随即解开。
//
// 栈槽到栈槽的搬移在这里按单条指令对待，目标机器不支持时由后端用
// 同一个暂存位置降级。
//
// 文献：Leroy, Parallel move resolution (Compcert)；ART
// parallel_move_resolver。

package regalloc

import (
	"fmt"
)

// ResolveParallel 把同时生效的搬移集合排成安全串行序列。
// 输入要求目的地两两不同（同一位置被写两次没有一致语义）
func ResolveParallel(tgt *Target, moves []Move) ([]Move, error) {
	seen := make(map[Location]bool, len(moves))
	pending := make([]Move, 0, len(moves))
	for _, m := range moves {
		if seen[m.To] {
			return nil, fmt.Errorf("parallel move writes %s twice: %w", m.To, ErrInfeasible)
		}
		seen[m.To] = true
		if m.From != m.To {
			pending = append(pending, m)
		}
	}

	var out []Move
	for len(pending) > 0 {
		progress := false
		for i := 0; i < len(pending); {
			if isPendingSource(pending, i, pending[i].To) {
				i++
				continue
			}
			out = append(out, pending[i])
			pending = append(pending[:i], pending[i+1:]...)
			progress = true
		}
		if progress {
			continue
		}
		// 置换环：来源进暂存，环内读取改读暂存
		m := pending[0]
		scratch := tgt.Scratch(m.Type)
		out = append(out, Move{Pos: m.Pos, Type: m.Type, From: m.From, To: scratch})
		for j := range pending {
			if pending[j].From == m.From {
				pending[j].From = scratch
			}
		}
	}
	return out, nil
}

// isPendingSource 位置 loc 是否还是除 skip 外某条待发搬移的来源
func isPendingSource(pending []Move, skip int, loc Location) bool {
	for i, m := range pending {
		if i != skip && m.From == loc {
			return true
		}
	}
	return false
}

// ssa.go - SSA 转换（阶段二）
//
// 把局部变量槽访问改写为 SSA 值：
// 1. 计算支配树与支配边界；
// 2. 对每个局部变量做活跃变量分析（骨架若自带块入口活跃集合则直接采用）；
// 3. 在定义块的迭代支配边界处放置 Phi，按活跃性剪枝
//    （局部变量在该块入口不活跃则不放 Phi）；
// 4. 沿支配树做显式栈的重命名遍历，消除 OpLoadLocal/OpStoreLocal。
//
// 参数槽 0..NumParams-1 的初值是入口块的 OpParam；其余槽位
// 首次读取前未写入时取类型零值常量（托管语义下的默认初始化）。
//
// 参考文献：
// - "Efficiently Computing Static Single Assignment Form and the
//   Control Dependence Graph" - Cytron et al.

package builder

import (
	"github.com/tangzhangming/vega/internal/analysis"
	"github.com/tangzhangming/vega/internal/ir"
)

type ssaConverter struct {
	g  *ir.Graph
	in *MethodInput

	dom      *analysis.Dominators
	frontier [][]ir.BlockID
	children [][]ir.BlockID // 支配树孩子

	liveIn [][]bool // [块][槽] 入口活跃

	phiLocal map[ir.ValueID]int32 // Phi → 对应槽号
	stacks   [][]ir.ValueID       // [槽] 重命名栈

	// 待重写的值映射（LoadLocal → 到达定义），最后统一解析
	replace map[ir.ValueID]ir.ValueID

	zeros map[int32]ir.ValueID // 槽 → 入口零值常量
}

// convertToSSA 执行 SSA 转换
func convertToSSA(g *ir.Graph, in *MethodInput, blockMap []ir.BlockID) error {
	c := &ssaConverter{
		g:        g,
		in:       in,
		phiLocal: make(map[ir.ValueID]int32),
		stacks:   make([][]ir.ValueID, in.NumLocals),
		replace:  make(map[ir.ValueID]ir.ValueID),
		zeros:    make(map[int32]ir.ValueID),
	}
	c.dom = analysis.ComputeDominators(g)
	c.frontier = c.dom.Frontier(g)
	c.buildDomChildren()
	c.computeLocalLiveness(blockMap)
	c.insertPhis()
	c.rename()
	c.rewriteAndStrip()
	return nil
}

func (c *ssaConverter) buildDomChildren() {
	c.children = make([][]ir.BlockID, c.g.NumBlocks())
	for _, b := range c.g.RPO() {
		if b == c.g.Entry {
			continue
		}
		p := c.dom.IDom(b)
		c.children[p] = append(c.children[p], b)
	}
}

// ============================================================================
// 局部变量活跃分析
// ============================================================================

// computeLocalLiveness 计算每块入口的局部变量活跃集合
// 骨架提供 LiveInLocals 时直接采信，否则做标准的反向不动点迭代。
func (c *ssaConverter) computeLocalLiveness(blockMap []ir.BlockID) {
	n := c.g.NumBlocks()
	c.liveIn = make([][]bool, n)
	for i := range c.liveIn {
		c.liveIn[i] = make([]bool, c.in.NumLocals)
	}

	provided := true
	for _, br := range c.in.Blocks {
		if br.LiveInLocals == nil {
			provided = false
			break
		}
	}
	if provided {
		for i, br := range c.in.Blocks {
			for _, l := range br.LiveInLocals {
				c.liveIn[blockMap[i]][l] = true
			}
		}
		return
	}

	// gen/kill：块内首次访问决定
	gen := make([][]bool, n)
	kill := make([][]bool, n)
	for i := 0; i < n; i++ {
		gen[i] = make([]bool, c.in.NumLocals)
		kill[i] = make([]bool, c.in.NumLocals)
		for _, v := range c.g.Block(ir.BlockID(i)).Insts {
			in := c.g.Inst(v)
			switch in.Op {
			case ir.OpLoadLocal:
				if !kill[i][in.Aux] {
					gen[i][in.Aux] = true
				}
			case ir.OpStoreLocal:
				kill[i][in.Aux] = true
			}
		}
	}

	rpo := c.g.RPO()
	changed := true
	for changed {
		changed = false
		for i := len(rpo) - 1; i >= 0; i-- {
			b := rpo[i]
			for l := 0; l < c.in.NumLocals; l++ {
				out := false
				for _, s := range c.g.Block(b).Succs {
					if c.liveIn[s][l] {
						out = true
						break
					}
				}
				in := gen[b][l] || (out && !kill[b][l])
				if in != c.liveIn[b][l] {
					c.liveIn[b][l] = in
					changed = true
				}
			}
		}
	}
}

// ============================================================================
// Phi 放置
// ============================================================================

func (c *ssaConverter) insertPhis() {
	// 每个槽的定义块集合（参数槽含入口块）
	defBlocks := make([][]ir.BlockID, c.in.NumLocals)
	for l := 0; l < c.in.NumParams; l++ {
		defBlocks[l] = append(defBlocks[l], c.g.Entry)
	}
	for _, b := range c.g.RPO() {
		seen := make(map[int64]bool)
		for _, v := range c.g.Block(b).Insts {
			in := c.g.Inst(v)
			if in.Op == ir.OpStoreLocal && !seen[in.Aux] {
				seen[in.Aux] = true
				defBlocks[in.Aux] = append(defBlocks[in.Aux], b)
			}
		}
	}

	for l := int32(0); int(l) < c.in.NumLocals; l++ {
		hasPhi := make([]bool, c.g.NumBlocks())
		work := append([]ir.BlockID(nil), defBlocks[l]...)
		for len(work) > 0 {
			b := work[len(work)-1]
			work = work[:len(work)-1]
			for _, f := range c.frontier[b] {
				if hasPhi[f] || !c.liveIn[f][l] {
					continue
				}
				hasPhi[f] = true
				args := make([]ir.ValueID, len(c.g.Block(f).Preds))
				for i := range args {
					args[i] = ir.NoValue
				}
				phi := c.g.NewPhi(f, c.in.LocalTypes[l], args...)
				c.phiLocal[phi] = l
				work = append(work, f) // Phi 本身也是定义
			}
		}
	}
}

// ============================================================================
// 重命名
// ============================================================================

// renameFrame 支配树遍历栈帧
type renameFrame struct {
	b      ir.BlockID
	next   int     // 下一个待访问的支配树孩子
	pushed []int32 // 本块压栈的槽号（离开时弹出）
}

func (c *ssaConverter) rename() {
	entryFrame := renameFrame{b: c.g.Entry}
	// 参数槽初值
	for i := 0; i < c.in.NumParams; i++ {
		c.stacks[i] = append(c.stacks[i], c.paramValue(i))
		entryFrame.pushed = append(entryFrame.pushed, int32(i))
	}
	c.renameBlock(&entryFrame)

	stack := []renameFrame{entryFrame}
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		kids := c.children[f.b]
		if f.next < len(kids) {
			child := renameFrame{b: kids[f.next]}
			f.next++
			c.renameBlock(&child)
			stack = append(stack, child)
			continue
		}
		for _, l := range f.pushed {
			c.stacks[l] = c.stacks[l][:len(c.stacks[l])-1]
		}
		stack = stack[:len(stack)-1]
	}
}

// renameBlock 处理单个块：Phi 压栈、槽访问改写、填充后继 Phi 输入
func (c *ssaConverter) renameBlock(f *renameFrame) {
	b := c.g.Block(f.b)

	for _, phi := range b.Phis {
		l, ok := c.phiLocal[phi]
		if !ok {
			continue
		}
		c.stacks[l] = append(c.stacks[l], phi)
		f.pushed = append(f.pushed, l)
	}

	for _, v := range b.Insts {
		in := c.g.Inst(v)
		switch in.Op {
		case ir.OpLoadLocal:
			c.replace[v] = c.currentDef(int32(in.Aux))
		case ir.OpStoreLocal:
			l := int32(in.Aux)
			c.stacks[l] = append(c.stacks[l], in.Args[0])
			f.pushed = append(f.pushed, l)
		}
	}

	for _, s := range b.Succs {
		sb := c.g.Block(s)
		for _, phi := range sb.Phis {
			l, ok := c.phiLocal[phi]
			if !ok {
				continue
			}
			for i, p := range sb.Preds {
				if p == f.b && c.g.Inst(phi).Args[i] == ir.NoValue {
					c.g.SetArg(phi, i, c.currentDef(l))
				}
			}
		}
	}
}

// currentDef 槽的当前到达定义，未定义时取类型零值
func (c *ssaConverter) currentDef(l int32) ir.ValueID {
	if s := c.stacks[l]; len(s) > 0 {
		return s[len(s)-1]
	}
	return c.zeroConst(l)
}

func (c *ssaConverter) paramValue(i int) ir.ValueID {
	entry := c.g.Block(c.g.Entry)
	for _, v := range entry.Insts {
		in := c.g.Inst(v)
		if in.Op == ir.OpParam && in.Aux == int64(i) {
			return v
		}
	}
	return ir.NoValue
}

func (c *ssaConverter) zeroConst(l int32) ir.ValueID {
	if v, ok := c.zeros[l]; ok {
		return v
	}
	// 插到入口块最前，保证支配所有潜在使用
	first := c.g.Block(c.g.Entry).Insts[0]
	v := c.g.InsertBefore(first, ir.OpConst, c.in.LocalTypes[l])
	c.zeros[l] = v
	return v
}

// ============================================================================
// 改写与清理
// ============================================================================

// rewriteAndStrip 解析替换映射并摘除全部槽访问指令
func (c *ssaConverter) rewriteAndStrip() {
	resolve := func(v ir.ValueID) ir.ValueID {
		for {
			next, ok := c.replace[v]
			if !ok {
				return v
			}
			v = next
		}
	}

	for v := 0; v < c.g.NumValues(); v++ {
		in := c.g.Inst(ir.ValueID(v))
		if in.Op == ir.OpNop || in.Op == ir.OpLoadLocal || in.Op == ir.OpStoreLocal {
			continue
		}
		for i, a := range in.Args {
			if a == ir.NoValue {
				continue
			}
			if r := resolve(a); r != a {
				c.g.SetArg(ir.ValueID(v), i, r)
			}
		}
	}

	for v := 0; v < c.g.NumValues(); v++ {
		in := c.g.Inst(ir.ValueID(v))
		if in.Op == ir.OpLoadLocal || in.Op == ir.OpStoreLocal {
			c.g.RemoveInst(ir.ValueID(v))
		}
	}
}

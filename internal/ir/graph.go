// graph.go - SSA 图表示
//
// 本文件实现方法级 SSA 图：基本块、指令、Phi 节点，以及逆后序遍历。
//
// 设计要点：
// - 指令与基本块存放在 Graph 内部的密集切片中，以整数 ID 互相引用，
//   不使用裸指针。编译单元结束或放弃时，整个图随 Graph 对象一次性
//   释放，不需要逐节点的生命周期管理。
// - 值即指令：每个产生值的指令的 ID 就是该值的 ID（SSA 单定义）。
// - Phi 输入顺序与前驱边顺序一一对应。
// - CFG 结构变更会递增版本号，分析缓存据此失效。

package ir

// BlockID 基本块编号（图内唯一）
type BlockID int32

// ValueID 值/指令编号（图内唯一）
type ValueID int32

const (
	// NoBlock 无效块编号
	NoBlock BlockID = -1
	// NoValue 无效值编号
	NoValue ValueID = -1
)

// ============================================================================
// 指令
// ============================================================================

// Inst IR 指令
// 每条指令最多产生一个值，值的 ID 即指令的 ID。
type Inst struct {
	ID    ValueID
	Op    Op
	Type  Type      // 产出值类型（无产出为 TypeVoid）
	Block BlockID   // 所属基本块
	Args  []ValueID // 输入值
	Aux   int64     // 常量位模式 / 参数序号 / 字段偏移
	Handle int32    // 外部句柄（字段/方法/类型），由前端解析
	BCPos int32     // 对应的字节码位置（去优化和栈图使用）
	Site  int32     // 内联站点下标（-1 为本方法顶层）
}

// HasValue 指令是否产生值
func (in *Inst) HasValue() bool { return in.Type != TypeVoid }

// ============================================================================
// 基本块
// ============================================================================

// Block 基本块
// Phi 节点与普通指令分开存放；Insts 末尾恒为唯一的终结指令。
type Block struct {
	ID    BlockID
	Preds []BlockID // 前驱（顺序与 Phi 输入对应）
	Succs []BlockID
	Phis  []ValueID
	Insts []ValueID

	// LoopHeader 是否为自然循环头（由构建器标记，循环分析校验）
	LoopHeader bool
}

// ============================================================================
// 图
// ============================================================================

// InlineSite 内联站点：记录重建逻辑调用栈所需的链条
type InlineSite struct {
	Parent    int32 // 上层站点（-1 为根帧）
	MethodID  int32 // 被内联的方法
	CallBCPos int32 // 调用点在上层帧的字节码位置
}

// Graph 方法级 SSA 图
type Graph struct {
	Name      string
	MethodID  int32
	NumParams int
	NumLocals int

	// InlineSites 内联站点表，Inst.Site 指向其中条目
	InlineSites []InlineSite

	Entry BlockID

	insts  []Inst
	blocks []Block

	useCount []int32

	rpo     []BlockID // 逆后序缓存
	version int64     // CFG 版本号，结构变更时递增
}

// NewGraph 创建空图
func NewGraph(name string, methodID int32) *Graph {
	return &Graph{
		Name:     name,
		MethodID: methodID,
		Entry:    NoBlock,
		insts:    make([]Inst, 0, 64),
		blocks:   make([]Block, 0, 8),
	}
}

// Version 当前 CFG 版本号
func (g *Graph) Version() int64 { return g.version }

// NumBlocks 基本块数量（含已摘除的占位）
func (g *Graph) NumBlocks() int { return len(g.blocks) }

// NumValues 值数量上界（ValueID 的开区间上界）
func (g *Graph) NumValues() int { return len(g.insts) }

// Block 按编号取基本块
func (g *Graph) Block(id BlockID) *Block { return &g.blocks[id] }

// Inst 按编号取指令
func (g *Graph) Inst(id ValueID) *Inst { return &g.insts[id] }

// UseCount 值的使用计数
func (g *Graph) UseCount(v ValueID) int32 { return g.useCount[v] }

// ============================================================================
// 构造
// ============================================================================

// NewBlock 新建基本块
func (g *Graph) NewBlock() BlockID {
	id := BlockID(len(g.blocks))
	g.blocks = append(g.blocks, Block{ID: id})
	if g.Entry == NoBlock {
		g.Entry = id
	}
	g.invalidateCFG()
	return id
}

// AddEdge 添加控制流边 from→to
// 后继顺序即分支语义顺序（OpIf：0 真 1 假）；前驱顺序决定 Phi 输入顺序。
func (g *Graph) AddEdge(from, to BlockID) {
	g.blocks[from].Succs = append(g.blocks[from].Succs, to)
	g.blocks[to].Preds = append(g.blocks[to].Preds, from)
	g.invalidateCFG()
}

// NewInst 在块尾追加指令并返回其值编号
func (g *Graph) NewInst(b BlockID, op Op, typ Type, args ...ValueID) ValueID {
	id := g.appendInst(b, op, typ, args)
	g.blocks[b].Insts = append(g.blocks[b].Insts, id)
	return id
}

// NewPhi 在块入口追加 Phi 节点
// 输入数量必须与当前前驱数量一致（构建期允许先空后补）。
func (g *Graph) NewPhi(b BlockID, typ Type, args ...ValueID) ValueID {
	id := g.appendInst(b, OpPhi, typ, args)
	g.blocks[b].Phis = append(g.blocks[b].Phis, id)
	return id
}

// NewConst 创建常量指令
func (g *Graph) NewConst(b BlockID, typ Type, bits int64) ValueID {
	id := g.NewInst(b, OpConst, typ)
	g.insts[id].Aux = bits
	return id
}

func (g *Graph) appendInst(b BlockID, op Op, typ Type, args []ValueID) ValueID {
	id := ValueID(len(g.insts))
	g.insts = append(g.insts, Inst{
		ID:    id,
		Op:    op,
		Type:  typ,
		Block: b,
		Args:  args,
		BCPos: -1,
		Site:  -1,
	})
	g.useCount = append(g.useCount, 0)
	for _, a := range args {
		if a != NoValue {
			g.useCount[a]++
		}
	}
	return id
}

// AddInlineSite 登记内联站点并返回其下标
func (g *Graph) AddInlineSite(parent, methodID, callBCPos int32) int32 {
	g.InlineSites = append(g.InlineSites, InlineSite{Parent: parent, MethodID: methodID, CallBCPos: callBCPos})
	return int32(len(g.InlineSites) - 1)
}

// SiteDepth 内联站点的链条深度（顶层为 0）
func (g *Graph) SiteDepth(site int32) int {
	d := 0
	for site >= 0 {
		d++
		site = g.InlineSites[site].Parent
	}
	return d
}

// Terminator 返回块的终结指令编号（块为空时返回 NoValue）
func (g *Graph) Terminator(b BlockID) ValueID {
	insts := g.blocks[b].Insts
	if len(insts) == 0 {
		return NoValue
	}
	last := insts[len(insts)-1]
	if !g.insts[last].Op.IsTerminator() {
		return NoValue
	}
	return last
}

// ============================================================================
// 变更
// ============================================================================

// SetArg 替换指令的第 i 个输入，维护使用计数
func (g *Graph) SetArg(v ValueID, i int, to ValueID) {
	in := &g.insts[v]
	old := in.Args[i]
	if old == to {
		return
	}
	if old != NoValue {
		g.useCount[old]--
	}
	in.Args[i] = to
	if to != NoValue {
		g.useCount[to]++
	}
}

// AddArg 追加指令输入（Phi 随前驱边增长时使用）
func (g *Graph) AddArg(v, arg ValueID) {
	g.insts[v].Args = append(g.insts[v].Args, arg)
	if arg != NoValue {
		g.useCount[arg]++
	}
}

// ReplaceUses 将 old 的所有使用替换为 new
func (g *Graph) ReplaceUses(old, new ValueID) {
	if old == new {
		return
	}
	for i := range g.insts {
		in := &g.insts[i]
		for j, a := range in.Args {
			if a == old {
				g.SetArg(in.ID, j, new)
			}
		}
	}
}

// RemoveInst 从所属块摘除指令并将其退化为 Nop
// 调用方保证该指令已无使用者。
func (g *Graph) RemoveInst(v ValueID) {
	in := &g.insts[v]
	for i, a := range in.Args {
		if a != NoValue {
			g.useCount[a]--
			in.Args[i] = NoValue
		}
	}
	b := &g.blocks[in.Block]
	if in.Op == OpPhi {
		b.Phis = removeID(b.Phis, v)
	} else {
		b.Insts = removeID(b.Insts, v)
	}
	in.Op = OpNop
	in.Args = nil
	in.Type = TypeVoid
}

// MoveToEnd 将指令移动到目标块终结指令之前（LICM 外提使用）
func (g *Graph) MoveToEnd(v ValueID, to BlockID) {
	in := &g.insts[v]
	from := &g.blocks[in.Block]
	from.Insts = removeID(from.Insts, v)
	dst := &g.blocks[to]
	n := len(dst.Insts)
	if n > 0 && g.insts[dst.Insts[n-1]].Op.IsTerminator() {
		dst.Insts = append(dst.Insts, NoValue)
		copy(dst.Insts[n:], dst.Insts[n-1:])
		dst.Insts[n-1] = v
	} else {
		dst.Insts = append(dst.Insts, v)
	}
	in.Block = to
}

// InsertBefore 将新建指令插入到 pos 指令之前
func (g *Graph) InsertBefore(pos ValueID, op Op, typ Type, args ...ValueID) ValueID {
	at := g.insts[pos].Block
	id := g.appendInst(at, op, typ, args)
	b := &g.blocks[at]
	for i, v := range b.Insts {
		if v == pos {
			b.Insts = append(b.Insts, NoValue)
			copy(b.Insts[i+1:], b.Insts[i:])
			b.Insts[i] = id
			return id
		}
	}
	// pos 不在块内属于调用方错误，追加到块尾兜底
	b.Insts = append(b.Insts, id)
	return id
}

// SetEdges 整体设置块的前驱/后继表（图复制拼接使用）
// 两侧顺序由调用方负责保持一致，Phi 输入顺序跟随前驱表。
func (g *Graph) SetEdges(b BlockID, preds, succs []BlockID) {
	g.blocks[b].Preds = preds
	g.blocks[b].Succs = succs
	g.invalidateCFG()
}

// RemoveSuccEdge 摘除 from 的第 succIdx 条后继边
// 同步删除对端前驱表项与对应 Phi 输入。
func (g *Graph) RemoveSuccEdge(from BlockID, succIdx int) {
	fb := &g.blocks[from]
	to := fb.Succs[succIdx]
	fb.Succs = append(fb.Succs[:succIdx], fb.Succs[succIdx+1:]...)

	tb := &g.blocks[to]
	for pi, p := range tb.Preds {
		if p != from {
			continue
		}
		tb.Preds = append(tb.Preds[:pi], tb.Preds[pi+1:]...)
		for _, phi := range tb.Phis {
			in := &g.insts[phi]
			if pi < len(in.Args) {
				if in.Args[pi] != NoValue {
					g.useCount[in.Args[pi]]--
				}
				in.Args = append(in.Args[:pi], in.Args[pi+1:]...)
			}
		}
		break
	}
	g.invalidateCFG()
}

// SplitAfter 把 at 之后的指令拆入新块并转移全部后继边
// 原块拆分后不再有后继与终结指令，调用方负责补上。
// 后继块前驱表中的原块编号原位替换为新块，Phi 输入顺序不变。
func (g *Graph) SplitAfter(at ValueID) BlockID {
	old := g.insts[at].Block
	nb := g.NewBlock()

	ob := &g.blocks[old]
	idx := -1
	for i, v := range ob.Insts {
		if v == at {
			idx = i
			break
		}
	}
	moved := append([]ValueID(nil), ob.Insts[idx+1:]...)
	ob.Insts = ob.Insts[:idx+1]
	g.blocks[nb].Insts = moved
	for _, v := range moved {
		g.insts[v].Block = nb
	}

	g.blocks[nb].Succs = ob.Succs
	ob.Succs = nil
	for _, s := range g.blocks[nb].Succs {
		sb := &g.blocks[s]
		for i, p := range sb.Preds {
			if p == old {
				sb.Preds[i] = nb
			}
		}
	}
	g.invalidateCFG()
	return nb
}

// SplitEdge 在 from 的第 succIdx 条后继边上插入只含 Goto 的新块
// 对端 Phi 输入顺序不变（前驱表项原位替换）。分配器的边解析要求
// 每条带搬移的边有唯一落点，关键边由此拆开。
func (g *Graph) SplitEdge(from BlockID, succIdx int) BlockID {
	to := g.blocks[from].Succs[succIdx]
	nb := g.NewBlock()
	g.NewInst(nb, OpGoto, TypeVoid)

	// 同一对块间可能有多条边，按出现次序对应前驱表项
	nth := 0
	for i := 0; i < succIdx; i++ {
		if g.blocks[from].Succs[i] == to {
			nth++
		}
	}
	g.blocks[from].Succs[succIdx] = nb
	g.blocks[nb].Preds = []BlockID{from}
	g.blocks[nb].Succs = []BlockID{to}

	tb := &g.blocks[to]
	for i, p := range tb.Preds {
		if p == from {
			if nth == 0 {
				tb.Preds[i] = nb
				break
			}
			nth--
		}
	}
	g.invalidateCFG()
	return nb
}

// CriticalEdges 多后继块指向多前驱块的边，按 (块, 后继下标) 返回
func (g *Graph) CriticalEdges() [][2]int32 {
	var out [][2]int32
	for _, bid := range g.RPO() {
		b := g.Block(bid)
		if len(b.Succs) < 2 {
			continue
		}
		for i, s := range b.Succs {
			if len(g.Block(s).Preds) > 1 {
				out = append(out, [2]int32{int32(bid), int32(i)})
			}
		}
	}
	return out
}

func removeID(s []ValueID, v ValueID) []ValueID {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// ============================================================================
// 遍历
// ============================================================================

// RPO 逆后序遍历（缓存，CFG 变更后重算）
func (g *Graph) RPO() []BlockID {
	if g.rpo != nil {
		return g.rpo
	}
	if g.Entry == NoBlock {
		return nil
	}
	visited := make([]bool, len(g.blocks))
	post := make([]BlockID, 0, len(g.blocks))

	// 显式栈的后序 DFS，避免深图递归爆栈
	type frame struct {
		b    BlockID
		next int
	}
	stack := []frame{{g.Entry, 0}}
	visited[g.Entry] = true
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		succs := g.blocks[f.b].Succs
		if f.next < len(succs) {
			s := succs[f.next]
			f.next++
			if !visited[s] {
				visited[s] = true
				stack = append(stack, frame{s, 0})
			}
			continue
		}
		post = append(post, f.b)
		stack = stack[:len(stack)-1]
	}
	rpo := make([]BlockID, len(post))
	for i, b := range post {
		rpo[len(post)-1-i] = b
	}
	g.rpo = rpo
	return rpo
}

// RPOIndex 返回块在逆后序中的下标表（不可达块为 -1）
func (g *Graph) RPOIndex() []int32 {
	idx := make([]int32, len(g.blocks))
	for i := range idx {
		idx[i] = -1
	}
	for i, b := range g.RPO() {
		idx[b] = int32(i)
	}
	return idx
}

func (g *Graph) invalidateCFG() {
	g.rpo = nil
	g.version++
}

// ============================================================================
// 不可达块清理
// ============================================================================

// PruneUnreachable 删除从入口不可达的块
// 摘除相应前驱边并同步收缩受影响块的 Phi 输入。
func (g *Graph) PruneUnreachable() {
	if g.Entry == NoBlock {
		return
	}
	reachable := make([]bool, len(g.blocks))
	for _, b := range g.RPO() {
		reachable[b] = true
	}
	changed := false
	for i := range g.blocks {
		b := &g.blocks[i]
		if !reachable[b.ID] {
			// 清空死块，保留占位以维持 ID 稳定
			for len(b.Phis) > 0 {
				g.RemoveInst(b.Phis[0])
			}
			for len(b.Insts) > 0 {
				g.RemoveInst(b.Insts[0])
			}
			b.Preds = nil
			b.Succs = nil
			changed = true
			continue
		}
		for pi := 0; pi < len(b.Preds); {
			if reachable[b.Preds[pi]] {
				pi++
				continue
			}
			b.Preds = append(b.Preds[:pi], b.Preds[pi+1:]...)
			for _, phi := range b.Phis {
				in := &g.insts[phi]
				dropped := in.Args[pi]
				if dropped != NoValue {
					g.useCount[dropped]--
				}
				in.Args = append(in.Args[:pi], in.Args[pi+1:]...)
			}
			changed = true
		}
	}
	if changed {
		g.invalidateCFG()
	}
}

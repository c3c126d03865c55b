// inline.go - 方法内联
//
// 把可解析的静态调用（含已锐化的虚调用）替换为被调方法的图：
// 拆分调用所在块、复制被调图（参数映射到实参、Return 改接续边、
// 多个返回值在接续块合成 Phi），并登记内联站点供栈图重建逻辑
// 调用栈。
//
// 预算控制（超出不是错误，调用原样保留）：
//   - 单个被调方法指令数 ≤ MaxCalleeSize；
//   - 内联深度（站点链长）≤ MaxDepth，深度计数显式随站点链传递，
//     不依赖递归；
//   - 方法累计指令增长 ≤ MaxTotalGrowth；
//   - 自递归（目标出现在当前站点链）不内联。

package opt

import (
	"go.uber.org/zap"

	"github.com/tangzhangming/vega/internal/ir"
)

// maxInlineRounds 单次 Pass 内联尝试轮数上限
const maxInlineRounds = 64

// Inlining 方法内联 Pass
type Inlining struct{}

func (Inlining) Name() string { return "inlining" }

func (Inlining) Run(ctx *Context) bool {
	if ctx.Resolver == nil {
		return false
	}
	g := ctx.Graph
	baseline := g.NumValues()
	rejected := make(map[ir.ValueID]bool)
	changed := false

	for round := 0; round < maxInlineRounds; round++ {
		call := findCandidate(g, rejected)
		if call == ir.NoValue {
			break
		}
		ctx.InlineStats.TotalCalls++
		if inlineCall(ctx, call, baseline) {
			ctx.InlineStats.InlinedCalls++
			changed = true
		} else {
			rejected[call] = true
		}
	}
	return changed
}

func findCandidate(g *ir.Graph, rejected map[ir.ValueID]bool) ir.ValueID {
	for _, bid := range g.RPO() {
		for _, v := range g.Block(bid).Insts {
			if g.Inst(v).Op == ir.OpInvokeStatic && !rejected[v] {
				return v
			}
		}
	}
	return ir.NoValue
}

// inlineCall 尝试内联单个调用点
func inlineCall(ctx *Context, callV ir.ValueID, baseline int) bool {
	g := ctx.Graph

	// 先取出需要的字段，后续追加指令会使指针失效
	call := g.Inst(callV)
	handle := call.Handle
	callArgs := append([]ir.ValueID(nil), call.Args...)
	parentSite := call.Site
	callBCPos := call.BCPos
	callBlock := call.Block
	retType := call.Type

	info, ok := ctx.Resolver.Callee(handle)
	if !ok {
		ctx.InlineStats.SkippedOther++
		return false
	}
	cg := info.Graph

	// 预算检查
	if info.Size > ctx.Budget.MaxCalleeSize {
		ctx.InlineStats.SkippedTooBig++
		return false
	}
	if g.SiteDepth(parentSite)+1 > ctx.Budget.MaxDepth {
		ctx.InlineStats.SkippedDepth++
		return false
	}
	if g.NumValues()+info.Size-baseline > ctx.Budget.MaxTotalGrowth {
		ctx.InlineStats.SkippedGrowth++
		return false
	}
	if inSiteChain(g, parentSite, cg.MethodID) {
		ctx.InlineStats.SkippedRecurse++
		return false
	}

	ctx.Log.Debug("inlining call",
		zap.String("caller", g.Name), zap.String("callee", cg.Name),
		zap.Int("size", info.Size))

	newSite := g.AddInlineSite(parentSite, cg.MethodID, callBCPos)

	// 被调图自己的站点表并入（解析器预内联过的场合）
	siteMap := make([]int32, len(cg.InlineSites))
	for i, s := range cg.InlineSites {
		parent := newSite
		if s.Parent >= 0 {
			parent = siteMap[s.Parent]
		}
		siteMap[i] = g.AddInlineSite(parent, s.MethodID, s.CallBCPos)
	}

	// 拆块：call 之后的指令进入接续块
	cont := g.SplitAfter(callV)

	// 复制块
	calleeRPO := cg.RPO()
	blockMap := make([]ir.BlockID, cg.NumBlocks())
	for i := range blockMap {
		blockMap[i] = ir.NoBlock
	}
	for _, b := range calleeRPO {
		blockMap[b] = g.NewBlock()
	}

	// 第一遍：创建 Phi 占位
	valMap := make([]ir.ValueID, cg.NumValues())
	for i := range valMap {
		valMap[i] = ir.NoValue
	}
	for _, b := range calleeRPO {
		for _, phi := range cg.Block(b).Phis {
			pin := cg.Inst(phi)
			holes := make([]ir.ValueID, len(pin.Args))
			for i := range holes {
				holes[i] = ir.NoValue
			}
			valMap[phi] = g.NewPhi(blockMap[b], pin.Type, holes...)
		}
	}

	// 第二遍：复制指令，Return 改为接续 Goto
	type retEdge struct {
		block ir.BlockID // 新图中的返回块
		value ir.ValueID // 返回值（void 为 NoValue）
	}
	var rets []retEdge
	for _, b := range calleeRPO {
		nb := blockMap[b]
		for _, v := range cg.Block(b).Insts {
			cin := cg.Inst(v)
			switch cin.Op {
			case ir.OpParam:
				valMap[v] = callArgs[cin.Aux]
			case ir.OpReturn:
				rv := ir.NoValue
				if len(cin.Args) > 0 {
					rv = valMap[cin.Args[0]]
				}
				g.NewInst(nb, ir.OpGoto, ir.TypeVoid)
				rets = append(rets, retEdge{block: nb, value: rv})
			default:
				mapped := make([]ir.ValueID, len(cin.Args))
				for i, a := range cin.Args {
					mapped[i] = valMap[a]
				}
				nv := g.NewInst(nb, cin.Op, cin.Type, mapped...)
				nin := g.Inst(nv)
				nin.Aux = cin.Aux
				nin.Handle = cin.Handle
				nin.BCPos = cin.BCPos
				if cin.Site >= 0 {
					nin.Site = siteMap[cin.Site]
				} else {
					nin.Site = newSite
				}
				valMap[v] = nv
			}
		}
	}

	// 第三遍：填 Phi 输入
	for _, b := range calleeRPO {
		for _, phi := range cg.Block(b).Phis {
			pin := cg.Inst(phi)
			for i, a := range pin.Args {
				g.SetArg(valMap[phi], i, valMap[a])
			}
		}
	}

	// 复制内部边（顺序照抄，Phi 输入顺序随前驱表保持）
	for _, b := range calleeRPO {
		cb := cg.Block(b)
		preds := make([]ir.BlockID, 0, len(cb.Preds))
		for _, p := range cb.Preds {
			preds = append(preds, blockMap[p])
		}
		var succs []ir.BlockID
		for _, s := range cb.Succs {
			succs = append(succs, blockMap[s])
		}
		g.SetEdges(blockMap[b], preds, succs)
	}

	// 接缝：调用块 → 被调入口
	g.NewInst(callBlock, ir.OpGoto, ir.TypeVoid)
	g.AddEdge(callBlock, blockMap[cg.Entry])

	// 返回边 → 接续块；多返回在接续块合成 Phi
	for _, r := range rets {
		g.AddEdge(r.block, cont)
	}
	result := ir.NoValue
	if retType != ir.TypeVoid && len(rets) > 0 {
		if len(rets) == 1 {
			result = rets[0].value
		} else {
			args := make([]ir.ValueID, len(rets))
			for i, r := range rets {
				args[i] = r.value
			}
			result = g.NewPhi(cont, retType, args...)
		}
	}

	if result != ir.NoValue {
		g.ReplaceUses(callV, result)
	}
	g.PruneUnreachable() // 被调方全抛出时接续块不可达
	if g.UseCount(callV) == 0 {
		g.RemoveInst(callV)
	}
	return true
}

// inSiteChain 目标方法是否已出现在站点链（含根方法）
func inSiteChain(g *ir.Graph, site int32, methodID int32) bool {
	if methodID == g.MethodID {
		return true
	}
	for site >= 0 {
		if g.InlineSites[site].MethodID == methodID {
			return true
		}
		site = g.InlineSites[site].Parent
	}
	return false
}

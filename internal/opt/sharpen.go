// sharpen.go - 虚调用锐化（去虚化）
//
// 两种证明途径把 InvokeVirtual 改写为 InvokeStatic：
//   - 接收者的定义是 NewObject：运行时类型精确已知；
//   - 解析回调证明该方法句柄当前只有一个实现（单态）。
// 改写后保留接收者作为第一个参数，内联器得以处理这类调用。

package opt

import (
	"go.uber.org/zap"

	"github.com/tangzhangming/vega/internal/ir"
)

// Sharpening 虚调用锐化 Pass
type Sharpening struct{}

func (Sharpening) Name() string { return "sharpening" }

func (Sharpening) Run(ctx *Context) bool {
	if ctx.Resolver == nil {
		return false
	}
	g := ctx.Graph
	changed := false
	for _, bid := range g.RPO() {
		for _, v := range g.Block(bid).Insts {
			in := g.Inst(v)
			if in.Op != ir.OpInvokeVirtual {
				continue
			}
			target, ok := resolveTarget(ctx, in)
			if !ok {
				continue
			}
			in.Op = ir.OpInvokeStatic
			in.Handle = target
			changed = true
			ctx.Log.Debug("devirtualized call",
				zap.String("method", g.Name),
				zap.Int32("target", target))
		}
	}
	return changed
}

func resolveTarget(ctx *Context, in *ir.Inst) (int32, bool) {
	// 接收者类型精确已知：按虚表直接解析
	recv := ctx.Graph.Inst(in.Args[0])
	if recv.Op == ir.OpNewObject {
		if t, ok := ctx.Resolver.Exact(recv.Handle, in.Handle); ok {
			return t, true
		}
	}
	// 全局单态
	return ctx.Resolver.Monomorphic(in.Handle)
}

// lse.go - 读写消除
//
// 块内前向扫描，跟踪（对象, 字段句柄）的可用值：
//   - 重复读取且中间无别名写入 → 复用先前的值；
//   - 写入后紧跟同位置读取 → 直接转发写入值；
//   - 同位置连续写入且中间无读者 → 删除较早的死写。
// 调用与可能别名的写入使相应可用值失效。
//
// 收集器约束：
//   - 启用读屏障时，引用装载一律不消除（每次装载都要过屏障）；
//   - 移动收集器下，引用的可用值不跨安全点存活（对象可能被搬走，
//     栈图里记录的是装载指令的产出位置）。

package opt

import (
	"github.com/tangzhangming/vega/internal/ir"
)

// LoadStoreElimination 读写消除 Pass
type LoadStoreElimination struct{}

func (LoadStoreElimination) Name() string { return "load-store-elimination" }

func (LoadStoreElimination) Run(ctx *Context) bool {
	g := ctx.Graph
	eff := ctx.Info.Effects()
	changed := false

	type memKey struct {
		obj    ir.ValueID
		handle int32
	}

	for _, bid := range g.RPO() {
		avail := make(map[memKey]ir.ValueID)      // 可转发的值
		lastStore := make(map[memKey]ir.ValueID)  // 待判死写
		insts := append([]ir.ValueID(nil), g.Block(bid).Insts...)

		for _, v := range insts {
			in := g.Inst(v)
			switch in.Op {
			case ir.OpLoadField:
				key := memKey{in.Args[0], in.Handle}
				if in.Type.IsReference() && ctx.Collector.ReadBarrier {
					// 读屏障下引用装载不可消除，但它本身产生可用值也无意义
					delete(lastStore, key)
					continue
				}
				if prev, ok := avail[key]; ok {
					g.ReplaceUses(v, prev)
					g.RemoveInst(v)
					changed = true
					continue
				}
				avail[key] = v
				delete(lastStore, key) // 有读者，前一个写不死

			case ir.OpStoreField:
				key := memKey{in.Args[0], in.Handle}
				if dead, ok := lastStore[key]; ok {
					g.RemoveInst(dead)
					changed = true
				}
				// 同字段、不同对象的可用值失效（两个引用可能指向同一对象）
				for k := range avail {
					if k.handle == in.Handle && k != key {
						delete(avail, k)
					}
				}
				avail[key] = in.Args[1]
				lastStore[key] = v

			default:
				e := eff.Of(in)
				if e.Writes() {
					avail = make(map[memKey]ir.ValueID)
					lastStore = make(map[memKey]ir.ValueID)
				} else if e.Reads() || e.CanThrow() {
					// 异常路径可能观察到内存，早先的写不算死
					lastStore = make(map[memKey]ir.ValueID)
				}
				if in.Op.IsSafepoint() && ctx.Collector.MovingCollector {
					// 对象可能被移动，引用值的旧位置不再可信
					for k, av := range avail {
						if g.Inst(av).Type.IsReference() || g.Inst(k.obj).Type.IsReference() {
							delete(avail, k)
						}
					}
				}
			}
		}
	}
	return changed
}

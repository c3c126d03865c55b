// input.go - 构建器输入记录
//
// 前端协作方提供的控制流骨架：按序的基本块边界记录（后继块下标），
// 加上逐位置的操作标记与操作数引用。操作数引用要么指向先前位置
// 产生的值（扁平位置下标），要么是前端已解析的外部句柄
// （字段/方法/类型），存放在记录的 Handle 字段。
//
// 跨块的数据流通过局部变量槽表达（OpLoadLocal/OpStoreLocal），
// 由 SSA 转换消除。

package builder

import (
	"github.com/tangzhangming/vega/internal/ir"
)

// InstRecord 单条输入指令记录
type InstRecord struct {
	Op     ir.Op
	Type   ir.Type
	Args   []int32 // 先前位置的扁平下标
	Aux    int64
	Handle int32
	Local  int32 // OpLoadLocal/OpStoreLocal 的局部变量槽
	BCPos  int32 // 原始字节码位置
}

// BlockRecord 基本块边界记录
type BlockRecord struct {
	Succs []int32 // 后继块下标（OpIf：0 真 1 假）
	Code  []InstRecord

	// LiveInLocals 骨架自带的块入口局部变量活跃集合（可选）。
	// 提供时直接用于 Phi 剪枝，省去构建器自己的活跃变量分析。
	LiveInLocals []int32
}

// MethodInput 一个方法的完整构建输入
type MethodInput struct {
	Name       string
	MethodID   int32
	NumParams  int
	NumLocals  int // 含参数槽，参数占用 0..NumParams-1
	LocalTypes []ir.Type
	Blocks     []BlockRecord // 下标 0 为入口块
}

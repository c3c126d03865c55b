// ops.go - IR 操作码定义
//
// 本文件定义了 Vega 中间表示的全部操作码，以及每个操作码的
// 静态属性（是否有副作用、是否可能抛出异常、是否为安全点等）。
//
// 指令集是面向托管语言 VM 的抽象操作集：算术、比较、控制转移、
// 字段/数组访问、检查指令（空指针检查、边界检查）、调用与安全点轮询。
// 架构相关的指令选择不在此层表达。

package ir

// ============================================================================
// 操作码
// ============================================================================

// Op IR 操作码
type Op int32

const (
	OpNop Op = iota

	// 常量与参数
	OpConst // Aux = 常量位模式
	OpParam // Aux = 参数序号

	// 局部变量槽访问（仅构建期存在，SSA 转换后必须消失）
	OpLoadLocal  // Aux = 槽号
	OpStoreLocal // Aux = 槽号；Args[0] = 值

	// 算术运算
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpNeg

	// 位运算
	OpAnd
	OpOr
	OpXor
	OpNot
	OpShl
	OpShr

	// 比较运算（产生 Int 0/1）
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	// 控制转移（块终结指令）
	OpGoto   // 单后继
	OpIf     // Args[0] = 条件；后继 0 为真分支，后继 1 为假分支
	OpReturn // Args[0] = 返回值（无返回值时无参数）
	OpThrow  // Args[0] = 异常对象

	// Phi 节点（块入口伪指令）
	OpPhi

	// 对象与数组
	OpNewObject   // Handle = 类型句柄；分配点，安全点
	OpNewArray    // Args[0] = 长度；Handle = 元素类型句柄；安全点
	OpLoadField   // Args[0] = 对象；Handle = 字段句柄，Aux = 字段偏移
	OpStoreField  // Args[0] = 对象，Args[1] = 值
	OpArrayGet    // Args[0] = 数组，Args[1] = 下标
	OpArraySet    // Args[0] = 数组，Args[1] = 下标，Args[2] = 值
	OpArrayLength // Args[0] = 数组

	// 检查指令
	OpNullCheck   // Args[0] = 引用；产出同一引用（非空证明）
	OpBoundsCheck // Args[0] = 下标，Args[1] = 长度；产出下标（范围证明）

	// 调用
	OpInvokeStatic  // Handle = 方法句柄；安全点
	OpInvokeVirtual // Args[0] = 接收者；Handle = 方法句柄；安全点

	// 安全点轮询（回边、方法入口）
	OpSafepoint

	opMax
)

// ============================================================================
// 操作码属性
// ============================================================================

// opFlags 操作码静态属性位
type opFlags uint8

const (
	flagTerminator opFlags = 1 << iota // 块终结指令
	flagCall                           // 调用（破坏 caller-saved 寄存器）
	flagSafepoint                      // 收集器/去优化器可观测点
	flagMemWrite                       // 写内存
	flagMemRead                        // 读内存
	flagCanThrow                       // 可能抛出异常
	flagPure                           // 无副作用且结果仅由输入决定（可被 GVN 合并）
)

var opTable = [opMax]struct {
	name  string
	flags opFlags
}{
	OpNop:   {"Nop", 0},
	OpConst: {"Const", flagPure},
	OpParam: {"Param", 0},

	OpLoadLocal:  {"LoadLocal", 0},
	OpStoreLocal: {"StoreLocal", 0},

	OpAdd: {"Add", flagPure},
	OpSub: {"Sub", flagPure},
	OpMul: {"Mul", flagPure},
	OpDiv: {"Div", flagPure | flagCanThrow},
	OpRem: {"Rem", flagPure | flagCanThrow},
	OpNeg: {"Neg", flagPure},

	OpAnd: {"And", flagPure},
	OpOr:  {"Or", flagPure},
	OpXor: {"Xor", flagPure},
	OpNot: {"Not", flagPure},
	OpShl: {"Shl", flagPure},
	OpShr: {"Shr", flagPure},

	OpEq: {"Eq", flagPure},
	OpNe: {"Ne", flagPure},
	OpLt: {"Lt", flagPure},
	OpLe: {"Le", flagPure},
	OpGt: {"Gt", flagPure},
	OpGe: {"Ge", flagPure},

	OpGoto:   {"Goto", flagTerminator},
	OpIf:     {"If", flagTerminator},
	OpReturn: {"Return", flagTerminator},
	OpThrow:  {"Throw", flagTerminator | flagCanThrow},

	OpPhi: {"Phi", 0},

	OpNewObject:   {"NewObject", flagCall | flagSafepoint | flagCanThrow},
	OpNewArray:    {"NewArray", flagCall | flagSafepoint | flagCanThrow},
	OpLoadField:   {"LoadField", flagMemRead | flagCanThrow},
	OpStoreField:  {"StoreField", flagMemWrite | flagCanThrow},
	OpArrayGet:    {"ArrayGet", flagMemRead | flagCanThrow},
	OpArraySet:    {"ArraySet", flagMemWrite | flagCanThrow},
	// 数组长度分配后不可变，按纯运算参与 GVN/LICM
	OpArrayLength: {"ArrayLength", flagPure},

	OpNullCheck:   {"NullCheck", flagCanThrow},
	OpBoundsCheck: {"BoundsCheck", flagCanThrow},

	OpInvokeStatic:  {"InvokeStatic", flagCall | flagSafepoint | flagMemRead | flagMemWrite | flagCanThrow},
	OpInvokeVirtual: {"InvokeVirtual", flagCall | flagSafepoint | flagMemRead | flagMemWrite | flagCanThrow},

	OpSafepoint: {"Safepoint", flagSafepoint},
}

// String 返回操作码的字符串表示
func (op Op) String() string {
	if op < 0 || op >= opMax {
		return "Invalid"
	}
	return opTable[op].name
}

// IsTerminator 是否为块终结指令
func (op Op) IsTerminator() bool { return opTable[op].flags&flagTerminator != 0 }

// IsCall 是否为调用类指令（破坏 call-clobbered 寄存器）
func (op Op) IsCall() bool { return opTable[op].flags&flagCall != 0 }

// IsSafepoint 是否为安全点
func (op Op) IsSafepoint() bool { return opTable[op].flags&flagSafepoint != 0 }

// ReadsMemory 是否读内存
func (op Op) ReadsMemory() bool { return opTable[op].flags&(flagMemRead|flagCall) != 0 }

// WritesMemory 是否写内存
func (op Op) WritesMemory() bool { return opTable[op].flags&(flagMemWrite|flagCall) != 0 }

// CanThrow 是否可能抛出异常
func (op Op) CanThrow() bool { return opTable[op].flags&flagCanThrow != 0 }

// IsPure 是否为纯计算（GVN 可合并）
func (op Op) IsPure() bool { return opTable[op].flags&flagPure != 0 }

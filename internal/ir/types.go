// types.go - IR 值类型
//
// 值类型只保留寄存器分配和栈图编码需要区分的维度：
// 整型宽度、浮点、以及是否为对象引用（收集器精确扫描的依据）。

package ir

// Type IR 值类型
type Type int8

const (
	TypeVoid Type = iota
	TypeInt       // 32 位整数
	TypeLong      // 64 位整数
	TypeFloat
	TypeDouble
	TypeRef // 对象引用
)

func (t Type) String() string {
	switch t {
	case TypeVoid:
		return "void"
	case TypeInt:
		return "int"
	case TypeLong:
		return "long"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeRef:
		return "ref"
	default:
		return "unknown"
	}
}

// IsReference 是否为对象引用类型（需要进入栈图）
func (t Type) IsReference() bool { return t == TypeRef }

// IsFloat 是否为浮点类型（使用浮点寄存器类）
func (t Type) IsFloat() bool { return t == TypeFloat || t == TypeDouble }

// errors.go - 编译单元错误分类
//
// 四类失败，恢复策略各不相同：
//   - 不支持的构造：放弃优化编译，回退基线路径，永不致命；
//   - 预算超限：跳过触发的变换，单元继续；
//   - 分配不可行：内部缺陷信号，调试构建致命，发布构建回退；
//   - 不变量破坏：图一致性检查失败，调试构建致命，发布构建
//     静默放弃该单元并回退。
// 所有失败都限定在单元内部，绝不波及并发编译的其他单元。

package unit

import (
	"errors"

	"github.com/tangzhangming/vega/internal/builder"
	"github.com/tangzhangming/vega/internal/regalloc"
)

var (
	// ErrUnsupported 输入包含支持范围之外的构造
	ErrUnsupported = builder.ErrUnsupported
	// ErrBudget 编译预算超限
	ErrBudget = errors.New("compile budget exceeded")
	// ErrInfeasible 分配器无法满足硬性约束
	ErrInfeasible = regalloc.ErrInfeasible
	// ErrInvariant 图一致性不变量破坏
	ErrInvariant = errors.New("internal invariant violation")
)

// Outcome 单元编译结局
type Outcome int8

const (
	// Compiled 优化编译成功，产出完整
	Compiled Outcome = iota
	// Fallback 回退基线路径（不支持的构造或发布构建下的内部缺陷）
	Fallback
	// Failed 调试构建下的致命失败
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Compiled:
		return "compiled"
	case Fallback:
		return "fallback"
	default:
		return "failed"
	}
}

// classify 失败映射到结局。debug 为真时内部缺陷致命
func classify(err error, debug bool) Outcome {
	switch {
	case errors.Is(err, ErrUnsupported):
		return Fallback
	case errors.Is(err, ErrInfeasible), errors.Is(err, ErrInvariant):
		if debug {
			return Failed
		}
		return Fallback
	default:
		if debug {
			return Failed
		}
		return Fallback
	}
}

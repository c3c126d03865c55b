// pass.go - 优化 Pass 接口与管理器
//
// Pass 流水线按固定顺序执行一次；只有 GVN、LICM、边界检查消除
// 这一组互相暴露机会的 Pass 以组为单位迭代到不动点。
// 每个 Pass 返回是否修改了图，管理器记录每个 Pass 的修改计数。

package opt

import (
	"go.uber.org/zap"

	"github.com/tangzhangming/vega/internal/analysis"
	"github.com/tangzhangming/vega/internal/ir"
)

// ============================================================================
// Pass 上下文
// ============================================================================

// CollectorConfig 收集器相关的构建期事实
// 决定哪些代码形态合法（读屏障下引用装载不可消除等）。
type CollectorConfig struct {
	// ReadBarrier 是否启用读屏障（并发收集器）
	ReadBarrier bool
	// MovingCollector 收集器是否移动对象
	MovingCollector bool
	// PoisonReferences 堆引用是否毒化编码
	PoisonReferences bool
}

// InlineBudget 内联预算
type InlineBudget struct {
	MaxDepth       int // 最大内联深度
	MaxCalleeSize  int // 单个被内联方法的指令数上限
	MaxTotalGrowth int // 整个方法允许的累计指令增长
}

// Resolver 调用目标解析回调，由编译驱动提供
type Resolver interface {
	// Monomorphic 虚调用句柄可证明单态时返回静态目标句柄
	Monomorphic(methodHandle int32) (int32, bool)
	// Exact 接收者运行时类型精确已知时解析虚表目标
	Exact(typeHandle, methodHandle int32) (int32, bool)
	// Callee 返回静态方法句柄的构建输入；不可解析时返回 false。
	// 每次调用产出独立的输入记录，内联方据此构建全新的图，
	// 编译单元之间不共享图节点。
	Callee(methodHandle int32) (*CalleeInfo, bool)
}

// CalleeInfo 被调方法的内联素材
type CalleeInfo struct {
	Graph *ir.Graph // 为本次内联新建的图，所有权归调用方
	Size  int       // 指令数（预算判断）
}

// Context 一次流水线运行的共享状态
type Context struct {
	Graph     *ir.Graph
	Info      *analysis.Info
	Log       *zap.Logger
	Collector CollectorConfig
	Budget    InlineBudget
	Resolver  Resolver

	// InlineStats 内联统计（诊断计数）
	InlineStats InlineStats
}

// InlineStats 内联统计
type InlineStats struct {
	TotalCalls     int // 见到的候选调用数
	InlinedCalls   int // 实际内联数
	SkippedTooBig  int // 因体积预算跳过
	SkippedDepth   int // 因深度预算跳过
	SkippedGrowth  int // 因累计增长预算跳过
	SkippedRecurse int // 因递归跳过
	SkippedOther   int // 其他原因跳过
}

// Pass 优化 Pass 接口
type Pass interface {
	Name() string
	Run(ctx *Context) bool // 返回是否有修改
}

// ============================================================================
// Pass 管理器
// ============================================================================

// PassManager Pass 管理器
type PassManager struct {
	passes []Pass
	stats  PassStats
}

// PassStats Pass 统计信息
type PassStats struct {
	PassesRun      int
	TotalChanges   int
	PerPassChanges map[string]int
}

// NewPassManager 创建 Pass 管理器
func NewPassManager() *PassManager {
	return &PassManager{
		stats: PassStats{PerPassChanges: make(map[string]int)},
	}
}

// AddPass 添加 Pass
func (pm *PassManager) AddPass(p Pass) {
	pm.passes = append(pm.passes, p)
}

// Stats 返回累计统计
func (pm *PassManager) Stats() PassStats { return pm.stats }

// Run 顺序运行全部 Pass 一遍
func (pm *PassManager) Run(ctx *Context) bool {
	changed := false
	for _, p := range pm.passes {
		pm.stats.PassesRun++
		if p.Run(ctx) {
			changed = true
			pm.stats.TotalChanges++
			pm.stats.PerPassChanges[p.Name()]++
			ctx.Log.Debug("pass changed graph",
				zap.String("pass", p.Name()),
				zap.String("method", ctx.Graph.Name))
		}
	}
	return changed
}

// RunUntilFixed 迭代运行到不动点（带上限防御）
func (pm *PassManager) RunUntilFixed(ctx *Context, maxIters int) {
	for i := 0; i < maxIters; i++ {
		if !pm.Run(ctx) {
			return
		}
	}
	ctx.Log.Debug("pass group hit iteration cap",
		zap.String("method", ctx.Graph.Name),
		zap.Int("iterations", maxIters))
}

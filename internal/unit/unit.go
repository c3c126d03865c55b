// unit.go - 编译单元流水线
//
// 一个单元 = 一个方法的一次编译：构建 → 优化 → 关键边拆分 →
// 活跃分析 → 寄存器分配 → 安全点记录。图与所有附属结构（分析
// 结果、区间、位置、安全点表）都限定在本次编译内，结束或放弃时
// 整体丢弃，方法之间不共享图节点。
//
// 层级决定分配器：O0-O2 线性扫描，O3 图着色。

package unit

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tangzhangming/vega/internal/analysis"
	"github.com/tangzhangming/vega/internal/builder"
	"github.com/tangzhangming/vega/internal/codegen"
	"github.com/tangzhangming/vega/internal/config"
	"github.com/tangzhangming/vega/internal/ir"
	"github.com/tangzhangming/vega/internal/opt"
	"github.com/tangzhangming/vega/internal/regalloc"
	"github.com/tangzhangming/vega/internal/stackmap"
)

// Options 单元构造时一次性传入的全部配置，之后不可变
type Options struct {
	Tier      opt.Tier
	Budget    opt.InlineBudget
	Collector opt.CollectorConfig
	Target    *codegen.TargetDesc
	Resolver  opt.Resolver
	Debug     bool
	Log       *zap.Logger
}

// FromConfig 配置文件映射到单元选项
func FromConfig(cfg *config.Config, log *zap.Logger) (*Options, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tgt, err := codegen.ByName(cfg.Target.Arch)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Options{
		Tier:      cfg.OptTier(),
		Budget:    cfg.Budget(),
		Collector: cfg.CollectorFacts(),
		Target:    tgt,
		Debug:     cfg.Compiler.Debug,
		Log:       log,
	}, nil
}

// Result 一个单元的编译产出
type Result struct {
	MethodID int32
	Name     string
	Outcome  Outcome
	// Err 失败原因；Outcome 为 Compiled 时为 nil
	Err error

	Graph *ir.Graph
	Alloc *regalloc.Allocation
	Maps  *stackmap.Table

	Passes opt.PassStats
	Inline opt.InlineStats
}

// Compile 编译单个方法。失败被吸收成结局，绝不 panic 出去
func Compile(in *builder.MethodInput, o *Options) (res *Result) {
	res = &Result{MethodID: in.MethodID, Name: in.Name}
	log := o.Log
	if log == nil {
		log = zap.NewNop()
	}

	// 单元隔离：任何一个单元的崩溃都不许波及并发编译的其他单元
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("%w: panic: %v", ErrInvariant, r)
			res.Outcome = classify(res.Err, o.Debug)
			res.Graph, res.Alloc, res.Maps = nil, nil, nil
			log.Error("compilation unit panicked",
				zap.Int32("method", in.MethodID), zap.Any("panic", r))
		}
	}()

	if err := compile(in, o, log, res); err != nil {
		res.Err = err
		res.Outcome = classify(err, o.Debug)
		res.Graph, res.Alloc, res.Maps = nil, nil, nil
		log.Debug("compilation unit did not complete",
			zap.Int32("method", in.MethodID),
			zap.String("outcome", res.Outcome.String()),
			zap.Error(err))
		return res
	}
	res.Outcome = Compiled
	return res
}

func compile(in *builder.MethodInput, o *Options, log *zap.Logger, res *Result) error {
	g, err := builder.Build(in, log)
	if err != nil {
		return err
	}
	res.Graph = g

	ctx := &opt.Context{
		Graph:     g,
		Info:      analysis.NewInfo(g, nil),
		Log:       log,
		Collector: o.Collector,
		Budget:    o.Budget,
		Resolver:  o.Resolver,
	}
	res.Passes = opt.NewOptimizer(o.Tier).Optimize(ctx)
	res.Inline = ctx.InlineStats

	if o.Debug {
		if err := ir.Check(g); err != nil {
			return fmt.Errorf("%w: after optimization: %v", ErrInvariant, err)
		}
	}

	// 关键边必须先拆：边上的搬移需要唯一落点
	for _, e := range g.CriticalEdges() {
		g.SplitEdge(ir.BlockID(e[0]), int(e[1]))
	}

	lv := regalloc.Compute(g, analysis.NewInfo(g, nil), log)
	alloc, err := allocator(o.Tier, log).Allocate(g, lv, o.Target.Regs)
	if err != nil {
		return err
	}
	res.Alloc = alloc

	maps, err := stackmap.Record(g, lv, alloc)
	if err != nil {
		// 活跃引用没有位置是分配器契约破坏，不是坏输入
		return fmt.Errorf("%w: %v", ErrInvariant, err)
	}
	res.Maps = maps
	return nil
}

// allocator 按层级选分配策略
func allocator(tier opt.Tier, log *zap.Logger) regalloc.Allocator {
	if tier >= opt.TierO3 {
		return regalloc.NewColoring(log)
	}
	return regalloc.NewLinearScan(log)
}

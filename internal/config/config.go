// Package config 编译器配置
//
// 配置在编译单元构造时一次性传入，之后不可变；核心绝不读进程级
// 的环境状态。文件格式为 TOML，缺省值见 Default。

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/tangzhangming/vega/internal/opt"
)

// ConfigFileName 配置文件名
const ConfigFileName = "vega.toml"

// Config 一次编译会话的全部配置
type Config struct {
	Compiler  CompilerConfig  `toml:"compiler"`
	Inline    InlineConfig    `toml:"inline"`
	Target    TargetConfig    `toml:"target"`
	Collector CollectorConfig `toml:"collector"`
}

// CompilerConfig 驱动与流水线配置
type CompilerConfig struct {
	// Tier 优化层级 0-3。3 启用图着色分配器
	Tier int `toml:"tier"`

	// Debug 调试构建：不变量破坏立即失败而非回退基线
	Debug bool `toml:"debug"`

	// Workers 并行编译协程数，0 = GOMAXPROCS
	Workers int `toml:"workers"`
}

// InlineConfig 内联预算
type InlineConfig struct {
	MaxDepth       int `toml:"max_depth"`
	MaxCalleeSize  int `toml:"max_callee_size"`
	MaxTotalGrowth int `toml:"max_total_growth"`
}

// TargetConfig 目标架构
type TargetConfig struct {
	// Arch 架构名："amd64" 或 "arm64"
	Arch string `toml:"arch"`
}

// CollectorConfig 收集器构建期事实，直接约束合法代码形态
type CollectorConfig struct {
	ReadBarrier      bool `toml:"read_barrier"`
	MovingCollector  bool `toml:"moving_collector"`
	PoisonReferences bool `toml:"poison_references"`
}

// Default 缺省配置
func Default() *Config {
	return &Config{
		Compiler: CompilerConfig{Tier: 2},
		Inline: InlineConfig{
			MaxDepth:       5,
			MaxCalleeSize:  32,
			MaxTotalGrowth: 512,
		},
		Target: TargetConfig{Arch: "amd64"},
	}
}

// Load 从文件加载配置，未出现的键保持缺省值
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置合法
func (c *Config) Validate() error {
	if c.Compiler.Tier < 0 || c.Compiler.Tier > 3 {
		return fmt.Errorf("compiler.tier %d out of range 0-3", c.Compiler.Tier)
	}
	if c.Compiler.Workers < 0 {
		return fmt.Errorf("compiler.workers %d is negative", c.Compiler.Workers)
	}
	switch c.Target.Arch {
	case "amd64", "arm64":
	default:
		return fmt.Errorf("unknown target.arch %q", c.Target.Arch)
	}
	if c.Inline.MaxDepth < 0 || c.Inline.MaxCalleeSize < 0 || c.Inline.MaxTotalGrowth < 0 {
		return fmt.Errorf("inline budgets must be non-negative")
	}
	return nil
}

// Save 保存配置到文件
func (c *Config) Save(path string) error {
	content := generateConfigWithComments(c)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateConfigWithComments 生成带注释的配置文件内容
func generateConfigWithComments(c *Config) string {
	var sb strings.Builder

	sb.WriteString("[compiler]\n")
	sb.WriteString("# 优化层级 0-3（3 启用图着色分配器）\n")
	sb.WriteString(fmt.Sprintf("tier = %d\n\n", c.Compiler.Tier))
	sb.WriteString("# 调试构建：不变量破坏立即失败\n")
	sb.WriteString(fmt.Sprintf("debug = %t\n\n", c.Compiler.Debug))
	sb.WriteString("# 并行编译协程数（0 = 跟随 GOMAXPROCS）\n")
	sb.WriteString(fmt.Sprintf("workers = %d\n\n", c.Compiler.Workers))

	sb.WriteString("[inline]\n")
	sb.WriteString(fmt.Sprintf("max_depth = %d\n", c.Inline.MaxDepth))
	sb.WriteString(fmt.Sprintf("max_callee_size = %d\n", c.Inline.MaxCalleeSize))
	sb.WriteString(fmt.Sprintf("max_total_growth = %d\n\n", c.Inline.MaxTotalGrowth))

	sb.WriteString("[target]\n")
	sb.WriteString("# 目标架构：amd64 / arm64\n")
	sb.WriteString(fmt.Sprintf("arch = %q\n\n", c.Target.Arch))

	sb.WriteString("[collector]\n")
	sb.WriteString("# 收集器构建期事实，决定哪些优化合法\n")
	sb.WriteString(fmt.Sprintf("read_barrier = %t\n", c.Collector.ReadBarrier))
	sb.WriteString(fmt.Sprintf("moving_collector = %t\n", c.Collector.MovingCollector))
	sb.WriteString(fmt.Sprintf("poison_references = %t\n", c.Collector.PoisonReferences))

	return sb.String()
}

// Tier 映射到优化器层级
func (c *Config) OptTier() opt.Tier {
	return opt.Tier(c.Compiler.Tier)
}

// Budget 映射到内联预算
func (c *Config) Budget() opt.InlineBudget {
	return opt.InlineBudget{
		MaxDepth:       c.Inline.MaxDepth,
		MaxCalleeSize:  c.Inline.MaxCalleeSize,
		MaxTotalGrowth: c.Inline.MaxTotalGrowth,
	}
}

// CollectorFacts 映射到 Pass 上下文的收集器配置
func (c *Config) CollectorFacts() opt.CollectorConfig {
	return opt.CollectorConfig{
		ReadBarrier:      c.Collector.ReadBarrier,
		MovingCollector:  c.Collector.MovingCollector,
		PoisonReferences: c.Collector.PoisonReferences,
	}
}

// codegen.go - 后端接口契约
//
// 中端到此为止：图已定序、每个值有物理位置、安全点表已记录。各架构
// 后端实现 Generator，吃进这份最终材料，吐回机器码缓冲、重定位表，
// 并逐个回填安全点的本地偏移。Verify 在交付前核对契约：每个安全点
// 都有回填偏移、偏移落在代码内、重定位不越界——差一条都按内部不变量
// 破坏处理。

package codegen

import (
	"fmt"

	"github.com/tangzhangming/vega/internal/ir"
	"github.com/tangzhangming/vega/internal/regalloc"
	"github.com/tangzhangming/vega/internal/stackmap"
)

// Input 交给后端的全部最终材料
type Input struct {
	Graph  *ir.Graph
	Live   *regalloc.Liveness
	Alloc  *regalloc.Allocation
	Maps   *stackmap.Table
	Target *TargetDesc
}

// RelocKind 重定位种类
type RelocKind int8

const (
	// RelocCall 调用目标：按方法句柄在链接时解析
	RelocCall RelocKind = iota
	// RelocData 常量池/数据引用
	RelocData
)

// Reloc 一条重定位记录：代码内偏移与待解析目标
type Reloc struct {
	Offset uint32
	Kind   RelocKind
	Handle int32
}

// Result 后端产出：不透明机器码加补丁表。
// 安全点偏移不在这里——后端直接回填到 Input.Maps
type Result struct {
	Code   []byte
	Relocs []Reloc
	// Entry 方法入口在 Code 内的偏移（序言之前可能有对齐填充）
	Entry uint32
}

// Generator 一个架构后端
type Generator interface {
	// Arch 与 TargetDesc.Arch 对应
	Arch() string
	// Generate 发射机器码并回填 in.Maps 的本地偏移
	Generate(in *Input) (*Result, error)
}

// Verify 交付前核对后端产出与安全点表的一致性
func Verify(in *Input, res *Result) error {
	if len(res.Code) == 0 {
		return fmt.Errorf("method %d: backend produced no code", in.Graph.MethodID)
	}
	if res.Entry >= uint32(len(res.Code)) {
		return fmt.Errorf("method %d: entry offset %d outside code (%d bytes)",
			in.Graph.MethodID, res.Entry, len(res.Code))
	}
	if !in.Maps.Complete() {
		return fmt.Errorf("method %d: safepoints without native offsets", in.Graph.MethodID)
	}
	for i := range in.Maps.Entries {
		e := &in.Maps.Entries[i]
		if e.NativeOffset >= uint32(len(res.Code)) {
			return fmt.Errorf("method %d: safepoint %d offset %#x outside code (%d bytes)",
				in.Graph.MethodID, e.ID, e.NativeOffset, len(res.Code))
		}
	}
	for _, r := range res.Relocs {
		if r.Offset >= uint32(len(res.Code)) {
			return fmt.Errorf("method %d: relocation at %#x outside code (%d bytes)",
				in.Graph.MethodID, r.Offset, len(res.Code))
		}
	}
	return nil
}

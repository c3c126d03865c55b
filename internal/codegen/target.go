// target.go - 目标架构描述
//
// 后端在构建期按配置选定一个 TargetDesc，分配器只消费其中的寄存器
// 文件（regalloc.Target），指令编码细节归各架构后端自己。寄存器编号
// 是分配器视角的稠密编号 0..N-1，不是机器编码：持有栈指针、帧指针、
// 平台保留寄存器的槽位不进寄存器文件，后端自行换算物理编码。

package codegen

import (
	"fmt"

	"github.com/tangzhangming/vega/internal/regalloc"
)

// TargetDesc 一个目标架构的完整描述：寄存器文件加上代码布局事实
type TargetDesc struct {
	// Arch 架构名（"amd64" / "arm64"）
	Arch string

	// Regs 分配器消费的寄存器文件
	Regs *regalloc.Target

	// PageSize 目标页面大小。低于它的字段偏移可以走隐式空检查：
	// 对空引用的访问必然落进零页触发段错误
	PageSize uint32

	// StackAlign 调用点的栈对齐要求（字节）
	StackAlign uint32

	// ShadowSpace 调用约定要求调用者预留的影子区（字节，Win64 为 32）
	ShadowSpace uint32

	// SlotSize 溢出栈槽宽度（字节）
	SlotSize uint32
}

// Validate 目标描述自洽性检查
func (d *TargetDesc) Validate() error {
	if d.Arch == "" {
		return fmt.Errorf("target description has no architecture name")
	}
	if d.PageSize == 0 || d.PageSize&(d.PageSize-1) != 0 {
		return fmt.Errorf("target %s: page size %d is not a power of two", d.Arch, d.PageSize)
	}
	if d.StackAlign == 0 || d.StackAlign&(d.StackAlign-1) != 0 {
		return fmt.Errorf("target %s: stack alignment %d is not a power of two", d.Arch, d.StackAlign)
	}
	return d.Regs.Validate()
}

// CanImplicitNullCheck 偏移 off 的字段访问能否把空检查折进访存。
// 只有落在零页内的偏移才保证对空引用访问必然出错
func (d *TargetDesc) CanImplicitNullCheck(off uint32) bool {
	return off < d.PageSize
}

// FrameSize 为 n 个溢出槽计算对齐后的帧大小
func (d *TargetDesc) FrameSize(slots int32) uint32 {
	raw := uint32(slots)*d.SlotSize + d.ShadowSpace
	a := d.StackAlign
	return (raw + a - 1) &^ (a - 1)
}

// AMD64 System V 调用约定的 x86-64 描述。
// 分配器编号表：RSP/RBP 不进文件，R11 留作搬移暂存
func AMD64() *TargetDesc {
	return &TargetDesc{
		Arch:       "amd64",
		PageSize:   4096,
		StackAlign: 16,
		SlotSize:   8,
		Regs: &regalloc.Target{
			Name:  "amd64",
			NumGP: 14,
			NumFP: 16,
			// rax rcx rdx rbx rsi rdi r8 r9 r10 r11 r12 r13 r14 r15
			//  0   1   2   3   4   5   6  7  8   9   10  11  12  13
			// caller-saved: rax rcx rdx rsi rdi r8-r11
			GPClobbered: 1<<0 | 1<<1 | 1<<2 | 1<<4 | 1<<5 | 1<<6 | 1<<7 | 1<<8 | 1<<9,
			// SysV 下全部 XMM 都是 caller-saved
			FPClobbered: 1<<16 - 1,
			ParamRegs:   []regalloc.Reg{5, 4, 2, 1, 6, 7}, // rdi rsi rdx rcx r8 r9
			FParamRegs:  []regalloc.Reg{0, 1, 2, 3, 4, 5, 6, 7},
			RetReg:      0, // rax
			FRetReg:     0, // xmm0
			ScratchGP:   9, // r11
			ScratchFP:   15,
			GPNames: []string{
				"rax", "rcx", "rdx", "rbx", "rsi", "rdi", "r8", "r9",
				"r10", "r11", "r12", "r13", "r14", "r15",
			},
			FPNames: []string{
				"xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7",
				"xmm8", "xmm9", "xmm10", "xmm11", "xmm12", "xmm13", "xmm14", "xmm15",
			},
		},
	}
}

// ARM64 AAPCS64 描述。
// X18（平台保留）、X29（帧指针）、X30（链接寄存器）、SP 不进文件，
// X16（IP0）留作搬移暂存
func ARM64() *TargetDesc {
	gpNames := make([]string, 0, 28)
	for i := 0; i <= 28; i++ {
		if i == 18 {
			continue
		}
		gpNames = append(gpNames, fmt.Sprintf("x%d", i))
	}
	fpNames := make([]string, 32)
	for i := range fpNames {
		fpNames[i] = fmt.Sprintf("v%d", i)
	}
	// 编号 0..17 对应 x0..x17（跳过 x18 后 18..27 对应 x19..x28）
	// caller-saved：x0-x17
	var gpClob uint64 = 1<<18 - 1
	// caller-saved：v0-v7、v16-v31（v8-v15 低 64 位被调用者保存，
	// 分配器按整寄存器保守处理，视作 callee-saved）
	var fpClob uint64 = (1<<8 - 1) | (0xFFFF << 16)
	return &TargetDesc{
		Arch:       "arm64",
		PageSize:   4096,
		StackAlign: 16,
		SlotSize:   8,
		Regs: &regalloc.Target{
			Name:        "arm64",
			NumGP:       28,
			NumFP:       32,
			GPClobbered: gpClob,
			FPClobbered: fpClob,
			ParamRegs:   []regalloc.Reg{0, 1, 2, 3, 4, 5, 6, 7},
			FParamRegs:  []regalloc.Reg{0, 1, 2, 3, 4, 5, 6, 7},
			RetReg:      0,
			FRetReg:     0,
			ScratchGP:   16, // x16 / IP0
			ScratchFP:   31,
			GPNames:     gpNames,
			FPNames:     fpNames,
		},
	}
}

// ByName 按架构名取描述，未知架构报错
func ByName(arch string) (*TargetDesc, error) {
	switch arch {
	case "amd64":
		return AMD64(), nil
	case "arm64":
		return ARM64(), nil
	default:
		return nil, fmt.Errorf("unknown target architecture %q", arch)
	}
}

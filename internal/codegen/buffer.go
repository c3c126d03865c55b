// buffer.go - 可执行代码缓冲
//
// 机器码要进可执行内存才能运行。按 W^X 走两段：映射为读写、拷入
// 代码，Seal 之后翻成读执行。缓冲的生命周期归调用方，Close 归还
// 映射。平台差异收在 mem_unix.go / mem_windows.go。

package codegen

import (
	"fmt"
	"unsafe"
)

// Buffer 一段页对齐的可执行内存
type Buffer struct {
	mem    []byte
	used   int
	sealed bool
}

// NewBuffer 映射一段至少 size 字节的读写内存
func NewBuffer(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("code buffer size %d", size)
	}
	mem, err := mapRW(size)
	if err != nil {
		return nil, fmt.Errorf("map code buffer: %w", err)
	}
	return &Buffer{mem: mem}, nil
}

// Write 追加代码字节。缓冲封印后写入报错
func (b *Buffer) Write(code []byte) (int, error) {
	if b.sealed {
		return 0, fmt.Errorf("code buffer is sealed")
	}
	if b.used+len(code) > len(b.mem) {
		return 0, fmt.Errorf("code buffer full: %d of %d bytes used", b.used, len(b.mem))
	}
	off := b.used
	copy(b.mem[off:], code)
	b.used += len(code)
	return off, nil
}

// Seal 翻成只读可执行。之后缓冲可被 CPU 执行，不可再写
func (b *Buffer) Seal() error {
	if b.sealed {
		return nil
	}
	if err := protectRX(b.mem); err != nil {
		return fmt.Errorf("seal code buffer: %w", err)
	}
	b.sealed = true
	return nil
}

// Addr 偏移 off 处的入口地址。未封印的缓冲没有入口
func (b *Buffer) Addr(off uint32) (uintptr, error) {
	if !b.sealed {
		return 0, fmt.Errorf("code buffer not sealed")
	}
	if int(off) >= b.used {
		return 0, fmt.Errorf("entry offset %d beyond %d written bytes", off, b.used)
	}
	return uintptr(unsafe.Pointer(&b.mem[off])), nil
}

// Used 已写入字节数
func (b *Buffer) Used() int { return b.used }

// Close 归还映射。之后缓冲内的代码不可再执行
func (b *Buffer) Close() error {
	if b.mem == nil {
		return nil
	}
	err := unmap(b.mem)
	b.mem = nil
	return err
}

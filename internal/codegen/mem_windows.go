//go:build windows

package codegen

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// mapRW 提交一段页对齐的读写内存
func mapRW(size int) ([]byte, error) {
	pageSize := 0x1000
	aligned := (size + pageSize - 1) &^ (pageSize - 1)
	addr, err := windows.VirtualAlloc(0, uintptr(aligned),
		windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), aligned), nil
}

// protectRX 翻成只读可执行
func protectRX(mem []byte) error {
	var old uint32
	return windows.VirtualProtect(uintptr(unsafe.Pointer(&mem[0])),
		uintptr(len(mem)), windows.PAGE_EXECUTE_READ, &old)
}

func unmap(mem []byte) error {
	return windows.VirtualFree(uintptr(unsafe.Pointer(&mem[0])), 0, windows.MEM_RELEASE)
}

//go:build !windows

package codegen

import (
	"golang.org/x/sys/unix"
)

// mapRW 匿名映射一段页对齐的读写内存
func mapRW(size int) ([]byte, error) {
	pageSize := unix.Getpagesize()
	aligned := (size + pageSize - 1) &^ (pageSize - 1)
	return unix.Mmap(-1, 0, aligned,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
}

// protectRX 翻成只读可执行（W^X 的执行半边）
func protectRX(mem []byte) error {
	return unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC)
}

func unmap(mem []byte) error {
	return unix.Munmap(mem)
}

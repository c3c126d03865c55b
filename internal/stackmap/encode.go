// encode.go - 安全点表的二进制编码
//
// 收集器与去优化器在运行时消费这张表，解码端不执行任何编译器代码，
// 所以格式是自描述的扁平字节流：小端 magic + 版本号，随后按本地代码
// 偏移升序排列的条目。整数一律 varint（有符号的走 zigzag），引用的
// 值编号是编译期概念，不落盘——运行时只关心 (位置种类, 位置编号)。
//
//	header:  magic u32 LE | version uvarint | methodID varint | count uvarint
//	entry:   nativeOffset uvarint
//	         refCount uvarint,   每个引用: kind uvarint + index varint
//	         frameDepth uvarint, 每层帧:   methodID varint + bcPos varint

package stackmap

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/tangzhangming/vega/internal/ir"
	"github.com/tangzhangming/vega/internal/regalloc"
)

// Magic 表头标识
const Magic uint32 = 0x4D534756 // "VGSM"

// Version 编码版本
const Version = 1

// Encode 编码成可独立解码的字节流。要求全部本地偏移已回填
func (t *Table) Encode() ([]byte, error) {
	if !t.Complete() {
		return nil, fmt.Errorf("method %d: stack map has unpatched native offsets", t.MethodID)
	}
	entries := append([]Entry(nil), t.Entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].NativeOffset < entries[j].NativeOffset })

	buf := binary.LittleEndian.AppendUint32(nil, Magic)
	buf = binary.AppendUvarint(buf, Version)
	buf = binary.AppendVarint(buf, int64(t.MethodID))
	buf = binary.AppendUvarint(buf, uint64(len(entries)))
	for _, e := range entries {
		buf = binary.AppendUvarint(buf, uint64(e.NativeOffset))
		buf = binary.AppendUvarint(buf, uint64(len(e.Refs)))
		for _, r := range e.Refs {
			buf = binary.AppendUvarint(buf, uint64(r.Loc.Kind))
			buf = binary.AppendVarint(buf, int64(r.Loc.Index))
		}
		buf = binary.AppendUvarint(buf, uint64(len(e.Frames)))
		for _, f := range e.Frames {
			buf = binary.AppendVarint(buf, int64(f.MethodID))
			buf = binary.AppendVarint(buf, int64(f.BCPos))
		}
	}
	return buf, nil
}

// decoder 顺序读取的游标
type decoder struct {
	buf []byte
	off int
}

func (d *decoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.off:])
	if n <= 0 {
		return 0, fmt.Errorf("truncated stack map at byte %d", d.off)
	}
	d.off += n
	return v, nil
}

func (d *decoder) varint() (int64, error) {
	v, n := binary.Varint(d.buf[d.off:])
	if n <= 0 {
		return 0, fmt.Errorf("truncated stack map at byte %d", d.off)
	}
	d.off += n
	return v, nil
}

// Decode 从字节流重建安全点表。引用的值编号不在线上，恢复为 NoValue
func Decode(buf []byte) (*Table, error) {
	if len(buf) < 4 || binary.LittleEndian.Uint32(buf) != Magic {
		return nil, fmt.Errorf("not a stack map: bad magic")
	}
	d := &decoder{buf: buf, off: 4}
	ver, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	if ver != Version {
		return nil, fmt.Errorf("stack map version %d, want %d", ver, Version)
	}
	methodID, err := d.varint()
	if err != nil {
		return nil, err
	}
	count, err := d.uvarint()
	if err != nil {
		return nil, err
	}

	t := &Table{MethodID: int32(methodID)}
	for i := uint64(0); i < count; i++ {
		e := Entry{ID: int32(i), Pos: -1}
		off, err := d.uvarint()
		if err != nil {
			return nil, err
		}
		e.NativeOffset = uint32(off)

		nrefs, err := d.uvarint()
		if err != nil {
			return nil, err
		}
		for j := uint64(0); j < nrefs; j++ {
			kind, err := d.uvarint()
			if err != nil {
				return nil, err
			}
			idx, err := d.varint()
			if err != nil {
				return nil, err
			}
			e.Refs = append(e.Refs, Ref{
				Value: ir.NoValue,
				Loc:   regalloc.Location{Kind: regalloc.LocKind(kind), Index: int32(idx)},
			})
		}

		depth, err := d.uvarint()
		if err != nil {
			return nil, err
		}
		if depth == 0 {
			return nil, fmt.Errorf("entry %d: empty frame chain", i)
		}
		for j := uint64(0); j < depth; j++ {
			mid, err := d.varint()
			if err != nil {
				return nil, err
			}
			bc, err := d.varint()
			if err != nil {
				return nil, err
			}
			e.Frames = append(e.Frames, Frame{MethodID: int32(mid), BCPos: int32(bc)})
		}
		t.Entries = append(t.Entries, e)
	}
	return t, nil
}

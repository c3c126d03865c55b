// dump.go - 图的文本与 JSON 输出
//
// 文本形式用于日志与测试断言，JSON 形式用于外部工具消费。

package ir

import (
	"fmt"
	"strings"

	"github.com/segmentio/encoding/json"
)

// String 返回图的文本形式
//
//	b0: [preds] [succs]
//	  v3 = Phi int v1 v2
//	  v4 = Add int v3 v0
func (g *Graph) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "graph %s (entry b%d)\n", g.Name, g.Entry)
	for _, bid := range g.RPO() {
		b := g.Block(bid)
		fmt.Fprintf(&sb, "b%d: preds=%v succs=%v", b.ID, b.Preds, b.Succs)
		if b.LoopHeader {
			sb.WriteString(" loop-header")
		}
		sb.WriteByte('\n')
		for _, v := range b.Phis {
			sb.WriteString("  ")
			sb.WriteString(g.instString(v))
			sb.WriteByte('\n')
		}
		for _, v := range b.Insts {
			sb.WriteString("  ")
			sb.WriteString(g.instString(v))
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func (g *Graph) instString(v ValueID) string {
	in := g.Inst(v)
	var sb strings.Builder
	if in.HasValue() {
		fmt.Fprintf(&sb, "v%d = ", v)
	}
	sb.WriteString(in.Op.String())
	if in.HasValue() {
		sb.WriteByte(' ')
		sb.WriteString(in.Type.String())
	}
	for _, a := range in.Args {
		fmt.Fprintf(&sb, " v%d", a)
	}
	switch in.Op {
	case OpConst, OpParam:
		fmt.Fprintf(&sb, " [%d]", in.Aux)
	case OpInvokeStatic, OpInvokeVirtual, OpNewObject, OpNewArray, OpLoadField, OpStoreField:
		fmt.Fprintf(&sb, " #%d", in.Handle)
	}
	return sb.String()
}

// ============================================================================
// JSON 输出
// ============================================================================

type jsonInst struct {
	ID    ValueID   `json:"id"`
	Op    string    `json:"op"`
	Type  string    `json:"type,omitempty"`
	Args  []ValueID `json:"args,omitempty"`
	Aux   int64     `json:"aux,omitempty"`
	BCPos int32     `json:"bcpos,omitempty"`
}

type jsonBlock struct {
	ID    BlockID    `json:"id"`
	Preds []BlockID  `json:"preds,omitempty"`
	Succs []BlockID  `json:"succs,omitempty"`
	Phis  []jsonInst `json:"phis,omitempty"`
	Insts []jsonInst `json:"insts"`
}

type jsonGraph struct {
	Name   string      `json:"name"`
	Entry  BlockID     `json:"entry"`
	Blocks []jsonBlock `json:"blocks"`
}

// MarshalJSON 序列化为 JSON（逆后序块顺序）
func (g *Graph) MarshalJSON() ([]byte, error) {
	jg := jsonGraph{Name: g.Name, Entry: g.Entry}
	for _, bid := range g.RPO() {
		b := g.Block(bid)
		jb := jsonBlock{ID: b.ID, Preds: b.Preds, Succs: b.Succs}
		for _, v := range b.Phis {
			jb.Phis = append(jb.Phis, g.jsonInst(v))
		}
		for _, v := range b.Insts {
			jb.Insts = append(jb.Insts, g.jsonInst(v))
		}
		jg.Blocks = append(jg.Blocks, jb)
	}
	return json.Marshal(jg)
}

func (g *Graph) jsonInst(v ValueID) jsonInst {
	in := g.Inst(v)
	ji := jsonInst{ID: v, Op: in.Op.String(), Args: in.Args, Aux: in.Aux, BCPos: in.BCPos}
	if in.HasValue() {
		ji.Type = in.Type.String()
	}
	return ji
}

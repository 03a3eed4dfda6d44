package schema

import (
	"math/rand"

	"github.com/midfuzz/midfuzz/internal/mtype"
)

// ValueKind discriminates the variant a ValueNode currently holds. A
// ValueNode is the tree's tagged-variant sum type: exactly one of nested,
// int, bool, float, char, array, or string.
type ValueKind int

const (
	KindNested ValueKind = iota
	KindInt
	KindUInt
	KindBool
	KindFloat
	KindChar
	KindArray
	KindString
)

// ValueNode is one element of an InterfaceVal's value list: either a nested
// InterfaceVal (for composite fields) or a scalar/array leaf generator
// carrying its own realized value.
type ValueNode struct {
	Name    string
	Kind    ValueKind
	Scalar  mtype.Kind
	Width   int
	Range   mtype.Range
	Fixed   bool // not set by ConstructValueTemplate; const fields use IsConst and Const
	IsConst bool
	Const   string

	NullTerminated bool
	StrLen         int // 0 means: substitute at gen_value time (node-name field)
	IsNodeField    bool

	ArrayFixed bool
	ArrayMax   int
	ArrayElems []ValueNode

	Nested *InterfaceVal

	// realized leaf values, populated by GenValue
	IntVal    int64
	UIntVal   uint64
	BoolVal   bool
	FloatBits uint64
	CharVal   byte
	StrVal    []byte
}

// InterfaceVal is a tree of realized values for one interface endpoint: the
// shape is fully determined by the schema for ItfType, only leaves are
// random.
type InterfaceVal struct {
	ItfName string
	ItfType string
	Val     []ValueNode
}

// defaultRangeFor returns the [min,max] range a fresh scalar leaf is
// configured with, honoring the nominal width.
func defaultRangeFor(k mtype.Kind) mtype.Range {
	w := k.Width()
	if w == 0 || w >= 64 {
		return mtype.Range{Min: -1 << 32, Max: 1<<32 - 1}
	}
	switch k {
	case mtype.UInt8, mtype.UInt16, mtype.UInt32, mtype.UInt64, mtype.Byte:
		return mtype.Range{Min: 0, Max: int64(1)<<w - 1}
	default:
		return mtype.Range{Min: -(int64(1) << (w - 1)), Max: int64(1)<<(w-1) - 1}
	}
}

// ConstructValueTemplate builds the value tree for itfType against the
// catalog: scalar leaves get a configured generator, composite/array fields
// recurse. nested-array counts are fixed at template build time so the tree
// shape never changes once constructed.
func ConstructValueTemplate(rng *rand.Rand, cat *Catalog, itfType string) (*InterfaceVal, bool) {
	fields, ok := cat.Fields(itfType)
	if !ok {
		return nil, false
	}
	iv := &InterfaceVal{ItfName: itfType, ItfType: cat.Resolve(itfType)}
	for _, f := range fields {
		iv.Val = append(iv.Val, buildField(rng, cat, f))
	}
	return iv, true
}

func buildField(rng *rand.Rand, cat *Catalog, f InterfaceParam) ValueNode {
	if f.IsConst {
		return ValueNode{Name: f.ArgName, Kind: KindString, IsConst: true, Const: f.ConstVal}
	}
	if f.IsMetaType() {
		k, _ := ResolveKind(f.ArgType)
		node := ValueNode{Name: f.ArgName, Scalar: k, Width: k.Width()}
		switch k {
		case mtype.Bool:
			node.Kind = KindBool
		case mtype.Float32, mtype.Float64:
			node.Kind = KindFloat
		case mtype.Char, mtype.Byte:
			node.Kind = KindChar
		case mtype.String:
			node.Kind = KindString
			node.NullTerminated = true
			if f.ArgName == "node" {
				node.IsNodeField = true
				node.StrLen = 0
			} else {
				node.StrLen = 1 + rng.Intn(32)
			}
		case mtype.UInt8, mtype.UInt16, mtype.UInt32, mtype.UInt64:
			node.Kind = KindUInt
			node.Range = defaultRangeFor(k)
		default:
			node.Kind = KindInt
			node.Range = defaultRangeFor(k)
		}
		if f.IsArray {
			elemTemplate := node
			node = ValueNode{
				Name:       f.ArgName,
				Kind:       KindArray,
				ArrayFixed: f.MaxArraySize > 0,
				ArrayMax:   f.MaxArraySize,
			}
			n := mtype.GenArrayLength(rng, f.MaxArraySize, node.ArrayFixed)
			for i := 0; i < n; i++ {
				node.ArrayElems = append(node.ArrayElems, elemTemplate)
			}
		}
		return node
	}

	if f.IsArray {
		n := rng.Intn(max(f.MaxArraySize, 1))
		node := ValueNode{Name: f.ArgName, Kind: KindArray, ArrayFixed: false, ArrayMax: f.MaxArraySize}
		for i := 0; i < n; i++ {
			nested, ok := ConstructValueTemplate(rng, cat, f.ArgType)
			if !ok {
				nested = &InterfaceVal{ItfName: f.ArgType, ItfType: f.ArgType}
			}
			node.ArrayElems = append(node.ArrayElems, ValueNode{Name: f.ArgName, Kind: KindNested, Nested: nested})
		}
		return node
	}

	nested, ok := ConstructValueTemplate(rng, cat, f.ArgType)
	if !ok {
		nested = &InterfaceVal{ItfName: f.ArgType, ItfType: f.ArgType}
	}
	return ValueNode{Name: f.ArgName, Kind: KindNested, Nested: nested}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// GenValue post-order traverses the tree, invoking each leaf's generator.
// nodeNames supplies the live node list substitution for fields named
// "node"; it is re-resolved on every call, never cached on the template.
func GenValue(rng *rand.Rand, iv *InterfaceVal, nodeNames []string) {
	for i := range iv.Val {
		genNode(rng, &iv.Val[i], nodeNames)
	}
}

func genNode(rng *rand.Rand, n *ValueNode, nodeNames []string) {
	if n.IsConst {
		return
	}
	switch n.Kind {
	case KindNested:
		if n.Nested != nil {
			GenValue(rng, n.Nested, nodeNames)
		}
	case KindArray:
		for i := range n.ArrayElems {
			genNode(rng, &n.ArrayElems[i], nodeNames)
		}
	case KindInt:
		n.IntVal = mtype.GenInt(rng, n.Range, n.Width)
		if n.Name == "sec" {
			n.IntVal = mtype.GenInt(rng, mtype.Range{Min: 0, Max: 1<<16 - 1}, 16)
		}
	case KindUInt:
		n.UIntVal = mtype.GenUInt(rng, n.Range, n.Width)
		if n.Name == "sec" {
			n.UIntVal = uint64(mtype.GenInt(rng, mtype.Range{Min: 0, Max: 1<<16 - 1}, 16))
		}
	case KindBool:
		n.BoolVal = rng.Intn(2) == 1
	case KindFloat:
		n.FloatBits = mtype.GenFloatBits(rng, n.Width)
	case KindChar:
		n.CharVal = mtype.GenChar(rng)
	case KindString:
		if n.IsNodeField && len(nodeNames) > 0 {
			n.StrVal = []byte(nodeNames[rng.Intn(len(nodeNames))])
			return
		}
		length := n.StrLen
		if length <= 0 {
			length = 1
		}
		n.StrVal = mtype.GenString(rng, length, n.NullTerminated)
	}
}

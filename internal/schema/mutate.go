package schema

import (
	"math/rand"

	"github.com/midfuzz/midfuzz/internal/mtype"
)

// MutateValue post-order walks an already-generated value tree and perturbs
// each scalar leaf in place via the corresponding mtype mutator, leaving the
// tree's shape (array lengths, nesting, const fields) untouched.
func MutateValue(rng *rand.Rand, iv *InterfaceVal) {
	for i := range iv.Val {
		mutateNode(rng, &iv.Val[i])
	}
}

func mutateNode(rng *rand.Rand, n *ValueNode) {
	if n.IsConst {
		return
	}
	switch n.Kind {
	case KindNested:
		if n.Nested != nil {
			MutateValue(rng, n.Nested)
		}
	case KindArray:
		for i := range n.ArrayElems {
			mutateNode(rng, &n.ArrayElems[i])
		}
	case KindInt:
		n.IntVal = mtype.MutateInt(rng, n.IntVal, n.Width)
	case KindUInt:
		n.UIntVal = uint64(mtype.MutateInt(rng, int64(n.UIntVal), n.Width))
	case KindBool:
		n.BoolVal = !n.BoolVal
	case KindFloat:
		n.FloatBits = mtype.MutateFloatBits(rng, n.FloatBits, n.Width)
	case KindChar:
		n.CharVal = mtype.MutateChar(rng, n.CharVal)
	case KindString:
		if n.IsNodeField || len(n.StrVal) == 0 {
			return
		}
		idx := rng.Intn(len(n.StrVal))
		n.StrVal[idx] = mtype.MutateChar(rng, n.StrVal[idx])
	}
}

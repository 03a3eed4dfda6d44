package schema

// CopyInterfaceVal deep-copies a value tree so a Prog pushed onto the
// corpus does not alias the live endpoint template, which is reused and
// re-randomized on every iteration.
func CopyInterfaceVal(iv *InterfaceVal) *InterfaceVal {
	if iv == nil {
		return nil
	}
	out := &InterfaceVal{ItfName: iv.ItfName, ItfType: iv.ItfType}
	out.Val = make([]ValueNode, len(iv.Val))
	for i, n := range iv.Val {
		out.Val[i] = copyNode(n)
	}
	return out
}

func copyNode(n ValueNode) ValueNode {
	out := n
	out.StrVal = append([]byte(nil), n.StrVal...)
	if n.Nested != nil {
		out.Nested = CopyInterfaceVal(n.Nested)
	}
	if n.ArrayElems != nil {
		out.ArrayElems = make([]ValueNode, len(n.ArrayElems))
		for i, e := range n.ArrayElems {
			out.ArrayElems[i] = copyNode(e)
		}
	}
	return out
}

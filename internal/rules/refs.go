package rules

// IndicatorRefs returns every indicator identifier referenced anywhere in
// the tree rooted at n. Used by configuration validation to resolve
// cross-references at load time.
func (n Node) IndicatorRefs() []string {
	var refs []string
	n.walkRefs(&refs)
	return refs
}

func (n Node) walkRefs(refs *[]string) {
	if n.Cond != nil {
		if n.Cond.Left.Kind == OperandIndicator {
			*refs = append(*refs, n.Cond.Left.Indicator)
		}
		if n.Cond.Right.Kind == OperandIndicator {
			*refs = append(*refs, n.Cond.Right.Indicator)
		}
	}
	if n.Group != nil {
		for _, child := range n.Group.All {
			child.walkRefs(refs)
		}
		for _, child := range n.Group.Any {
			child.walkRefs(refs)
		}
	}
}

/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package planner

import "math"

/*
IndexLookup answers whether a (label, property) index exists; Translate
never reads the index's contents, only its existence, matching
store/index.Catalog.HasIndex's signature.
*/
type IndexLookup func(label, property string) bool

/*
Planner translates query ASTs into operator trees, holding just the
catalog handles it needs for scan selection and cost estimation
(spec §4.4). translateState's bound set tracks which row symbols are
already bound as translation proceeds through a clause sequence, exactly the semantic-
analysis bookkeeping the teacher's parser keeps in eqlRuntimeProvider.
*/
type Planner struct {
	Catalog  Catalog
	HasIndex IndexLookup
	LabelIDs map[string]int
}

/*
NewPlanner creates a planner bound to a catalog and index lookup.
LabelIDs may be nil; an unknown label is treated as having the highest
(last) tie-break priority.
*/
func NewPlanner(cat Catalog, hasIndex IndexLookup, labelIDs map[string]int) *Planner {
	if labelIDs == nil {
		labelIDs = map[string]int{}
	}
	return &Planner{Catalog: cat, HasIndex: hasIndex, LabelIDs: labelIDs}
}

/*
translateState threads the bound-symbol set and the pending-write flag
(for Accumulate insertion) through clause translation.
*/
type translateState struct {
	bound        map[string]bool
	pendingWrite bool
}

/*
Translate lowers a full query AST into a logical operator tree rooted
at the clause sequence's end, per spec §4.4.
*/
func (p *Planner) Translate(q *Query) (Op, error) {
	var plan Op = Once{}
	st := &translateState{bound: map[string]bool{}}

	for _, c := range q.Clauses {
		var err error
		plan, err = p.translateClause(plan, c, st)
		if err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func (p *Planner) translateClause(plan Op, c Clause, st *translateState) (Op, error) {
	switch cl := c.(type) {
	case MatchClause:
		return p.translateMatch(plan, cl, st)
	case MergeClause:
		return p.translateMerge(plan, cl, st)
	case CreateClause:
		return p.translateCreate(plan, cl, st)
	case SetClause:
		st.pendingWrite = true
		return p.translateSet(plan, cl), nil
	case RemoveClause:
		st.pendingWrite = true
		return p.translateRemove(plan, cl), nil
	case DeleteClause:
		st.pendingWrite = true
		return Delete{base: base{Input: plan}, Variables: cl.Variables, Detach: cl.Detach}, nil
	case UnwindClause:
		st.bound[cl.As] = true
		return Unwind{base: base{Input: plan}, List: cl.List, Symbol: cl.As}, nil
	case WithClause:
		return translateProjection(plan, cl.Items, cl.Distinct, cl.Where, cl.OrderBy, cl.Skip, cl.Limit), nil
	case ReturnClause:
		return translateProjection(plan, cl.Items, cl.Distinct, nil, cl.OrderBy, cl.Skip, cl.Limit), nil
	case UnionClause:
		return p.translateUnion(cl)
	default:
		return plan, nil
	}
}

/*
translateMatch lowers a MATCH pattern chain into Scan+Expand+Filter
(+EdgeUniquenessFilter), crossing it with the existing plan via
Cartesian when the pattern's first vertex is not already bound to a row
the existing plan produces, and wrapping the whole thing in an
Accumulate barrier when a write clause preceded it (spec §4.4's
"required when a write node precedes a read node").
*/
func (p *Planner) translateMatch(plan Op, cl MatchClause, st *translateState) (Op, error) {
	if st.pendingWrite {
		plan = Accumulate{base: base{Input: plan}, Symbols: boundSymbols(st.bound)}
		st.pendingWrite = false
	}

	patternPlan, edgeSymbols := p.translatePattern(cl.Pattern, cl.Where, st)

	if len(edgeSymbols) > 1 {
		patternPlan = EdgeUniquenessFilter{base: base{Input: patternPlan}, EdgeSymbols: edgeSymbols}
	}

	if cl.Where != nil {
		patternPlan = Filter{base: base{Input: patternPlan}, Predicate: cl.Where}
	}

	var merged Op
	if isOnce(plan) {
		merged = patternPlan
	} else {
		merged = Cartesian{Left: plan, Right: patternPlan}
	}

	if cl.Optional {
		merged = Optional{base: base{Input: merged}, Symbols: patternSymbols(cl.Pattern)}
	}

	return merged, nil
}

func isOnce(op Op) bool {
	_, ok := op.(Once)
	return ok
}

func patternSymbols(pat Pattern) []string {
	var out []string
	for _, el := range pat.Elements {
		if el.Node.Variable != "" {
			out = append(out, el.Node.Variable)
		}
		if el.Edge != nil && el.Edge.Variable != "" {
			out = append(out, el.Edge.Variable)
		}
	}
	return out
}

func boundSymbols(bound map[string]bool) []string {
	out := make([]string, 0, len(bound))
	for s := range bound {
		out = append(out, s)
	}
	return out
}

/*
translatePattern lowers one pattern chain, returning the edge symbols it
bound (used for the uniqueness filter when a pattern revisits an edge).
*/
func (p *Planner) translatePattern(pat Pattern, where Expr, st *translateState) (Op, []string) {
	var plan Op
	var edgeSymbols []string
	var pathElems []string
	lastWasVariableLength := false

	for i, el := range pat.Elements {
		if i == 0 {
			plan = p.translateScan(el.Node, where, st)
			st.bound[el.Node.Variable] = true
			pathElems = append(pathElems, el.Node.Variable)
			continue
		}

		inSym := pat.Elements[i-1].Node.Variable
		edge := el.Edge

		fixedSingleHop := edge.MinHops == edge.MaxHops && edge.MinHops <= 1
		lastWasVariableLength = !fixedSingleHop

		if fixedSingleHop {
			plan = Expand{
				base:        base{Input: plan},
				InputSymbol: inSym,
				Symbol:      el.Node.Variable,
				EdgeSymbol:  edge.Variable,
				Types:       edge.Types,
				Direction:   edge.Direction,
			}
		} else {
			plan = ExpandVariable{
				base:        base{Input: plan},
				InputSymbol: inSym,
				Symbol:      el.Node.Variable,
				EdgeSymbol:  edge.Variable,
				Types:       edge.Types,
				Direction:   edge.Direction,
				MinHops:     edge.MinHops,
				MaxHops:     edge.MaxHops,
				PathSymbol:  pat.NamedPath,
			}
		}

		st.bound[el.Node.Variable] = true
		if edge.Variable != "" {
			st.bound[edge.Variable] = true
			edgeSymbols = append(edgeSymbols, edge.Variable)
		}
		pathElems = append(pathElems, edge.Variable, el.Node.Variable)

		if len(el.Node.Labels) > 0 || len(el.Node.Properties) > 0 {
			plan = Filter{base: base{Input: plan}, Predicate: nodeConstraintPredicate(el.Node)}
		}
	}

	if pat.NamedPath != "" && len(pat.Elements) > 1 && !lastWasVariableLength {
		// ExpandVariable already materializes its own path when the
		// pattern's last step is variable-length; this op only covers
		// patterns made entirely of fixed single hops.
		plan = ConstructNamedPath{base: base{Input: plan}, Symbol: pat.NamedPath, Elements: pathElems}
	}

	return plan, edgeSymbols
}

func nodeConstraintPredicate(n NodePattern) Expr {
	var pred Expr
	for _, l := range n.Labels {
		lc := LabelCheck{Variable: n.Variable, Label: l}
		pred = andExpr(pred, lc)
	}
	for prop, val := range n.Properties {
		eq := BinaryOp{Op: "=", Left: PropertyRef{Variable: n.Variable, Property: prop}, Right: val}
		pred = andExpr(pred, eq)
	}
	return pred
}

func andExpr(a, b Expr) Expr {
	if a == nil {
		return b
	}
	return BinaryOp{Op: "AND", Left: a, Right: b}
}

/*
translateScan picks the scan operator for a pattern's first (bound)
vertex, per spec §4.4's priority rule, consulting WHERE for any
equality/range conjuncts that mention this variable in addition to the
inline pattern constraints.
*/
func (p *Planner) translateScan(n NodePattern, where Expr, st *translateState) Op {
	c := constraintFromNode(n)
	mergeWhereConstraint(&c, where, n.Variable)
	p.chooseScanLabel(n, &c)

	scan := selectScan(n.Variable, c, p.Catalog, p.HasIndex, p.LabelIDs)

	if len(n.Labels) > 1 {
		// Additional labels beyond the one used for scan selection are
		// enforced as a filter.
		scan = Filter{base: base{Input: scan}, Predicate: extraLabelPredicate(n, c.label)}
	}
	if len(n.Properties) > 0 {
		scan = Filter{base: base{Input: scan}, Predicate: nodeConstraintPredicate(n)}
	}
	return scan
}

func constraintFromNode(n NodePattern) boundConstraint {
	c := boundConstraint{}
	if len(n.Labels) > 0 {
		c.label = n.Labels[0]
		c.hasLabel = true
	}
	for prop, val := range n.Properties {
		c.equalityProp = prop
		c.equalityVal = val
		c.hasEquality = true
		break
	}
	return c
}

/*
chooseScanLabel picks which of a multiply-labeled vertex's labels the
scan should key on, when an equality constraint could be served by an
index under more than one of them. Grounded on pickBestIndex's
lowest-cardinality-then-label-id tie-break rule (spec §4.4); with a
single label or no indexable equality there is nothing to choose among,
so c.label is left as constraintFromNode set it.
*/
func (p *Planner) chooseScanLabel(n NodePattern, c *boundConstraint) {
	if len(n.Labels) < 2 || !c.hasEquality {
		return
	}

	var candidates []indexCandidate
	for _, l := range n.Labels {
		if !p.HasIndex(l, c.equalityProp) {
			continue
		}
		candidates = append(candidates, indexCandidate{
			label:       l,
			property:    c.equalityProp,
			cardinality: p.Catalog.VerticesCount(l, c.equalityProp),
			labelID:     p.labelID(l),
		})
	}

	if best, ok := pickBestIndex(candidates); ok {
		c.label = best.label
	}
}

/*
labelID looks up l's tie-break order, treating a label NewPlanner was
never told about as sorting last (math.MaxInt), per NewPlanner's doc
comment.
*/
func (p *Planner) labelID(l string) int {
	if id, ok := p.LabelIDs[l]; ok {
		return id
	}
	return math.MaxInt
}

func extraLabelPredicate(n NodePattern, skip string) Expr {
	var pred Expr
	for _, l := range n.Labels {
		if l == skip {
			continue
		}
		pred = andExpr(pred, LabelCheck{Variable: n.Variable, Label: l})
	}
	return pred
}

/*
mergeWhereConstraint scans a WHERE expression tree for top-level AND
conjuncts mentioning variable, upgrading c with any equality or range
comparison found - the AST-level version of the same rule
translateScan's inline-property path already applies.
*/
func mergeWhereConstraint(c *boundConstraint, where Expr, variable string) {
	if where == nil {
		return
	}
	for _, conjunct := range splitConjuncts(where) {
		bop, ok := conjunct.(BinaryOp)
		if !ok {
			continue
		}
		prop, ref, ok := propertyComparison(bop, variable)
		if !ok {
			continue
		}
		switch bop.Op {
		case "=":
			c.equalityProp = prop
			c.equalityVal = ref
			c.hasEquality = true
		case "<", "<=", ">", ">=":
			c.rangeProp = prop
			c.hasRange = true
			lowerOp := bop.Op == ">" || bop.Op == ">="
			inclusive := bop.Op == "<=" || bop.Op == ">="
			if lowerOp {
				c.rangeLower = ref
				c.lowerInc = inclusive
			} else {
				c.rangeUpper = ref
				c.upperInc = inclusive
			}
		}
	}
}

func splitConjuncts(e Expr) []Expr {
	if bop, ok := e.(BinaryOp); ok && bop.Op == "AND" {
		return append(splitConjuncts(bop.Left), splitConjuncts(bop.Right)...)
	}
	return []Expr{e}
}

/*
propertyComparison reports whether bop compares variable.property
against a constant/parameter (in either argument order), returning the
property name and the other side as the comparison value.
*/
func propertyComparison(bop BinaryOp, variable string) (string, Expr, bool) {
	if pr, ok := bop.Left.(PropertyRef); ok && pr.Variable == variable {
		return pr.Property, bop.Right, true
	}
	if pr, ok := bop.Right.(PropertyRef); ok && pr.Variable == variable {
		return pr.Property, bop.Left, true
	}
	return "", nil, false
}

func translateProjection(plan Op, items []ProjectionItem, distinct bool, where Expr, order []OrderItem, skip, limit Expr) Op {
	if where != nil {
		plan = Filter{base: base{Input: plan}, Predicate: where}
	}
	plan = Produce{base: base{Input: plan}, Items: items}
	if distinct {
		exprs := make([]Expr, len(items))
		for i, it := range items {
			exprs[i] = it.Expr
		}
		plan = Distinct{base: base{Input: plan}, Items: exprs}
	}
	if len(order) > 0 {
		plan = OrderBy{base: base{Input: plan}, Items: order}
	}
	if skip != nil {
		plan = Skip{base: base{Input: plan}, Count: skip}
	}
	if limit != nil {
		plan = Limit{base: base{Input: plan}, Count: limit}
	}
	return plan
}

func (p *Planner) translateCreate(plan Op, cl CreateClause, st *translateState) (Op, error) {
	st.pendingWrite = true

	for i, el := range cl.Pattern.Elements {
		if i == 0 {
			if st.bound[el.Node.Variable] {
				continue
			}
			plan = CreateNode{base: base{Input: plan}, Symbol: el.Node.Variable, Labels: el.Node.Labels, Properties: el.Node.Properties}
			st.bound[el.Node.Variable] = true
			continue
		}

		fromSym := cl.Pattern.Elements[i-1].Node.Variable
		creates := !st.bound[el.Node.Variable]
		plan = CreateExpand{
			base:        base{Input: plan},
			FromSymbol:  fromSym,
			ToSymbol:    el.Node.Variable,
			EdgeSymbol:  el.Edge.Variable,
			EdgeType:    firstOr(el.Edge.Types, ""),
			CreatesNode: creates,
			NodeLabels:  el.Node.Labels,
			NodeProps:   el.Node.Properties,
			Direction:   el.Edge.Direction,
		}
		st.bound[el.Node.Variable] = true
		if el.Edge.Variable != "" {
			st.bound[el.Edge.Variable] = true
		}
	}
	return plan, nil
}

func firstOr(items []string, def string) string {
	if len(items) > 0 {
		return items[0]
	}
	return def
}

func (p *Planner) translateSet(plan Op, cl SetClause) Op {
	for _, item := range cl.Items {
		if len(item.Labels) > 0 {
			plan = SetLabels{base: base{Input: plan}, Variable: item.Variable, Labels: item.Labels}
		} else {
			plan = SetProperty{base: base{Input: plan}, Variable: item.Variable, Property: item.Property, Value: item.Value}
		}
	}
	return plan
}

func (p *Planner) translateRemove(plan Op, cl RemoveClause) Op {
	for _, item := range cl.Items {
		if len(item.Labels) > 0 {
			plan = RemoveLabels{base: base{Input: plan}, Variable: item.Variable, Labels: item.Labels}
		} else {
			plan = RemoveProperty{base: base{Input: plan}, Variable: item.Variable, Property: item.Property}
		}
	}
	return plan
}

func (p *Planner) translateMerge(plan Op, cl MergeClause, st *translateState) (Op, error) {
	st.pendingWrite = true

	matchState := &translateState{bound: copyBound(st.bound)}
	matchPlan, _ := p.translatePattern(cl.Pattern, nil, matchState)

	createState := &translateState{bound: copyBound(st.bound)}
	createPlan, err := p.translateCreate(Once{}, CreateClause{Pattern: cl.Pattern}, createState)
	if err != nil {
		return nil, err
	}

	for k := range matchState.bound {
		st.bound[k] = true
	}

	return Merge{
		base:     base{Input: plan},
		Match:    matchPlan,
		Create:   createPlan,
		OnMatch:  cl.OnMatch,
		OnCreate: cl.OnCreate,
	}, nil
}

func copyBound(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (p *Planner) translateUnion(cl UnionClause) (Op, error) {
	branches := make([]Op, 0, len(cl.Branches))
	for _, q := range cl.Branches {
		b, err := p.Translate(q)
		if err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return Union{Branches: branches, All: cl.All}, nil
}

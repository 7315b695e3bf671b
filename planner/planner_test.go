/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package planner

import "testing"

/*
fakeCatalog is a catalog fixture keyed by "label" or "label.property",
letting a test fix exact cardinalities without a live store.
*/
type fakeCatalog map[string]int

func (c fakeCatalog) VerticesCount(label, property string) int {
	key := label
	if property != "" {
		key = label + "." + property
	}
	return c[key]
}

func alwaysIndexed(indexed map[string]bool) IndexLookup {
	return func(label, property string) bool {
		return indexed[label+"."+property]
	}
}

/*
TestTranslateScanPrefersIndexedEquality covers spec §4.4's scan-selection
priority: a label plus an indexed equality beats a plain label scan.
*/
func TestTranslateScanPrefersIndexedEquality(t *testing.T) {
	p := NewPlanner(fakeCatalog{"Person.name": 3}, alwaysIndexed(map[string]bool{"Person.name": true}), nil)

	n := NodePattern{
		Variable:   "n",
		Labels:     []string{"Person"},
		Properties: map[string]Expr{"name": Literal{Value: "ada"}},
	}
	op := p.translateScan(n, nil, &translateState{bound: map[string]bool{}})

	scan, ok := op.(ScanAllByLabelPropertyValue)
	if !ok {
		t.Fatalf("expected ScanAllByLabelPropertyValue, got %T", op)
	}
	if scan.Label != "Person" || scan.Property != "name" {
		t.Fatalf("unexpected scan target: %+v", scan)
	}
}

/*
TestTranslateScanFallsBackToLabel checks that without a matching index a
bound label-only vertex falls back to ScanAllByLabel rather than a full
scan.
*/
func TestTranslateScanFallsBackToLabel(t *testing.T) {
	p := NewPlanner(fakeCatalog{}, alwaysIndexed(nil), nil)

	n := NodePattern{Variable: "n", Labels: []string{"Person"}}
	op := p.translateScan(n, nil, &translateState{bound: map[string]bool{}})

	scan, ok := op.(ScanAllByLabel)
	if !ok {
		t.Fatalf("expected ScanAllByLabel, got %T", op)
	}
	if scan.Label != "Person" {
		t.Fatalf("unexpected label: %q", scan.Label)
	}
}

/*
TestTranslateScanNoLabelIsFullScan checks the bottom of the priority
order: no label at all yields ScanAll.
*/
func TestTranslateScanNoLabelIsFullScan(t *testing.T) {
	p := NewPlanner(fakeCatalog{}, alwaysIndexed(nil), nil)

	n := NodePattern{Variable: "n"}
	op := p.translateScan(n, nil, &translateState{bound: map[string]bool{}})

	if _, ok := op.(ScanAll); !ok {
		t.Fatalf("expected ScanAll, got %T", op)
	}
}

/*
TestChooseScanLabelPicksLowestCardinality covers pickBestIndex wired
into multi-label scan selection: of two indexed labels on the same
equality property, the one with fewer vertices wins.
*/
func TestChooseScanLabelPicksLowestCardinality(t *testing.T) {
	p := NewPlanner(
		fakeCatalog{"Person.id": 1000, "Admin.id": 5},
		alwaysIndexed(map[string]bool{"Person.id": true, "Admin.id": true}),
		map[string]int{"Person": 0, "Admin": 1},
	)

	n := NodePattern{
		Variable:   "n",
		Labels:     []string{"Person", "Admin"},
		Properties: map[string]Expr{"id": Literal{Value: int64(7)}},
	}
	op := p.translateScan(n, nil, &translateState{bound: map[string]bool{}})

	scan, ok := op.(ScanAllByLabelPropertyValue)
	if !ok {
		t.Fatalf("expected ScanAllByLabelPropertyValue, got %T", op)
	}
	if scan.Label != "Admin" {
		t.Fatalf("expected the lower-cardinality label Admin to win, got %q", scan.Label)
	}
}

/*
TestChooseScanLabelTieBreaksByLabelID checks that equal cardinalities
fall back to label declaration order.
*/
func TestChooseScanLabelTieBreaksByLabelID(t *testing.T) {
	p := NewPlanner(
		fakeCatalog{"Person.id": 10, "Admin.id": 10},
		alwaysIndexed(map[string]bool{"Person.id": true, "Admin.id": true}),
		map[string]int{"Admin": 0, "Person": 1},
	)

	n := NodePattern{
		Variable:   "n",
		Labels:     []string{"Person", "Admin"},
		Properties: map[string]Expr{"id": Literal{Value: int64(7)}},
	}
	op := p.translateScan(n, nil, &translateState{bound: map[string]bool{}})

	scan, ok := op.(ScanAllByLabelPropertyValue)
	if !ok {
		t.Fatalf("expected ScanAllByLabelPropertyValue, got %T", op)
	}
	if scan.Label != "Admin" {
		t.Fatalf("expected the earlier-declared label Admin to win a cardinality tie, got %q", scan.Label)
	}
}

/*
TestEstimateCostIndexBeatsFullScan checks the cost-composition rule
itself: an index scan plus a filter must cost less than a full scan of
the same data.
*/
func TestEstimateCostIndexBeatsFullScan(t *testing.T) {
	cat := fakeCatalog{"Person.name": 3}

	indexed := ScanAllByLabelPropertyValue{Symbol: "n", Label: "Person", Property: "name", Value: Literal{Value: "ada"}}
	full := ScanAll{Symbol: "n"}

	ie := EstimateCost(indexed, cat)
	fe := EstimateCost(full, cat)

	if ie.Cost >= fe.Cost {
		t.Fatalf("expected indexed scan cost %v to be cheaper than full scan cost %v", ie.Cost, fe.Cost)
	}
}

/*
TestEstimateCostRangeScanBothBoundsNil covers the boundary case of a
range scan with neither bound set (an unbounded range over an indexed
property): it costs the same as a point lookup on the same property and
estimates half the indexed count, since the estimator only inspects
Label/Property, not the bounds, for its cardinality source.
*/
func TestEstimateCostRangeScanBothBoundsNil(t *testing.T) {
	cat := fakeCatalog{"Person.age": 100}

	rng := ScanAllByLabelPropertyRange{Symbol: "n", Label: "Person", Property: "age"}
	e := EstimateCost(rng, cat)

	if e.Cost != kScanIndex {
		t.Fatalf("expected cost %v, got %v", kScanIndex, e.Cost)
	}
	if e.Cardinality != 50 {
		t.Fatalf("expected cardinality 50 (half the indexed count), got %v", e.Cardinality)
	}
}

/*
TestEstimateCostUnwindEmptyList covers the boundary case of Unwind over
a literal empty list: cardinality must be exactly zero, not the
configured unknown-expression default.
*/
func TestEstimateCostUnwindEmptyList(t *testing.T) {
	u := Unwind{List: ListLiteral{Items: nil}, Symbol: "x"}
	e := EstimateCost(u, fakeCatalog{})

	if e.Cardinality != 0 {
		t.Fatalf("expected zero cardinality for an empty list, got %v", e.Cardinality)
	}
}

/*
TestEstimateCostUnwindUnknownExpressionUsesDefault checks that Unwind
over a non-literal expression (size unknowable at plan time) falls back
to the configured default cardinality rather than zero or one.
*/
func TestEstimateCostUnwindUnknownExpressionUsesDefault(t *testing.T) {
	u := Unwind{List: VarRef{Name: "xs"}, Symbol: "x"}
	e := EstimateCost(u, fakeCatalog{})

	if e.Cardinality != cardUnwindDefault {
		t.Fatalf("expected default cardinality %v, got %v", cardUnwindDefault, e.Cardinality)
	}
}

/*
TestEstimateCostComposesPipeline checks the two-operator composition
rule: cost(op1 -> op2) == cost(op1) + cardinality(op1)*cost(op2).
*/
func TestEstimateCostComposesPipeline(t *testing.T) {
	cat := fakeCatalog{"Person": 20}

	scan := ScanAllByLabel{Symbol: "n", Label: "Person"}
	filtered := Filter{base: base{Input: scan}, Predicate: LabelCheck{Variable: "n", Label: "Person"}}

	scanEst := EstimateCost(scan, cat)
	got := EstimateCost(filtered, cat)

	wantCost := scanEst.Cost + scanEst.Cardinality*kFilter
	wantCard := scanEst.Cardinality * cardFilter
	if got.Cost != wantCost {
		t.Fatalf("expected composed cost %v, got %v", wantCost, got.Cost)
	}
	if got.Cardinality != wantCard {
		t.Fatalf("expected composed cardinality %v, got %v", wantCard, got.Cardinality)
	}
}

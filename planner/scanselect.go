/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package planner

import "sort"

/*
boundConstraint is what selectScan found out about a bound vertex by
inspecting its node pattern and any WHERE conjuncts that mention it.
*/
type boundConstraint struct {
	label         string
	hasLabel      bool
	equalityProp  string
	equalityVal   Expr
	hasEquality   bool
	rangeProp     string
	rangeLower    Expr
	rangeUpper    Expr
	lowerInc      bool
	upperInc      bool
	hasRange      bool
}

/*
indexCandidate is one (label, property) pair with an index this bound
vertex could use, plus the estimated cardinality that decides which one
wins when several apply.
*/
type indexCandidate struct {
	label       string
	property    string
	cardinality int
	labelID     int
}

/*
selectScan implements spec §4.4's scan-selection rule: "If any WHERE
clause binds a label plus an equality on an indexed property, pick
ScanAllByLabelPropertyValue; else an inequality yields
ScanAllByLabelPropertyRange; else a label alone yields ScanAllByLabel;
else ScanAll. When multiple label/property indexes apply, pick the one
with the lowest estimated cardinality; ties broken by the label id."

labelIDs assigns a stable tie-break order to label names (their
declaration order is the "label id" spec.md refers to).
*/
func selectScan(symbol string, c boundConstraint, cat Catalog, hasIndex func(label, property string) bool, labelIDs map[string]int) Op {
	if !c.hasLabel {
		return ScanAll{Symbol: symbol}
	}

	if c.hasEquality && hasIndex(c.label, c.equalityProp) {
		return ScanAllByLabelPropertyValue{
			Symbol: symbol, Label: c.label, Property: c.equalityProp, Value: c.equalityVal,
		}
	}

	if c.hasRange && hasIndex(c.label, c.rangeProp) {
		return ScanAllByLabelPropertyRange{
			Symbol: symbol, Label: c.label, Property: c.rangeProp,
			Lower: c.rangeLower, Upper: c.rangeUpper,
			LowerInclusive: c.lowerInc, UpperInclusive: c.upperInc,
		}
	}

	return ScanAllByLabel{Symbol: symbol, Label: c.label}
}

/*
pickBestIndex chooses among several (label, property) index candidates
applicable to the same bound vertex (a vertex carrying multiple labels,
each independently indexed on the same or different properties),
selecting the lowest estimated cardinality and breaking ties by label
id.
*/
func pickBestIndex(candidates []indexCandidate) (indexCandidate, bool) {
	if len(candidates) == 0 {
		return indexCandidate{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].cardinality != candidates[j].cardinality {
			return candidates[i].cardinality < candidates[j].cardinality
		}
		return candidates[i].labelID < candidates[j].labelID
	})
	return candidates[0], true
}

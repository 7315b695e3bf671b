/*
 * vgdb
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package planner

/*
Cost constants and cardinality multipliers (spec §4.4: "implementation-
tunable but must be strictly positive; the filter cardinality multiplier
strictly < 1"). Relative ordering grounded on
original_source/tests/unit/query_cost_estimator.cpp: a full scan costs
more than a label scan, which costs more than an index scan; a single
expansion costs less than any scan, variable expansion more than a
single expansion, and breadth-first traversal more still.
*/
const (
	kOnce      = 1.0
	kScanAll   = 100.0
	kScanLabel = 20.0
	kScanIndex = 5.0

	kExpand             = 3.0
	kExpandVariable     = 9.0
	kExpandBreadthFirst = 12.0
	kFilter             = 1.0
	kExpandUniqueness   = 1.0
	kProduce            = 1.0
	kAggregate          = 4.0
	kOrderBy            = 6.0
	kSkip               = 0.2
	kLimit              = 0.2
	kDistinct           = 2.0
	kUnwind             = 1.0
	kCreate             = 2.0
	kSetOrRemove        = 1.0
	kDelete             = 1.0
	kAccumulate         = 1.0
	kCartesian          = 1.0

	// cardinality multipliers: how many output rows per input row.
	cardFilter  = 0.5
	cardExpand  = 3.0
	cardScanAll = 1000.0
	cardDefault = 1.0
	cardSkipLim = 1.0

	/*
	cardUnwindDefault is the configured default cardinality used for
	Unwind over an expression whose size is not known at plan time (spec
	§4.4: "over an unknown expression uses a configured default").
	*/
	cardUnwindDefault = 10.0
)

/*
Estimate is a (cost, cardinality) pair: cost is the estimated work to
produce Cardinality output rows from one input row of the operator
above it in the tree.
*/
type Estimate struct {
	Cost        float64
	Cardinality float64
}

/*
Catalog is the subset of store/index.Catalog the cost estimator needs.
Declared here (rather than importing store/index directly) so planner
has no dependency on the index package's concrete types - only on the
cardinality numbers it can report.
*/
type Catalog interface {
	VerticesCount(label, property string) int
}

/*
EstimateCost walks op bottom-up and returns its total (cost,
cardinality), composing a pipeline op1 -> op2 as
cost(op1) + cardinality(op1) * cost(op2), exactly the rule in spec §4.4.
*/
func EstimateCost(op Op, cat Catalog) Estimate {
	children := op.Children()

	self := selfEstimate(op, cat)

	switch len(children) {
	case 0:
		return self

	case 1:
		in := EstimateCost(children[0], cat)
		return Estimate{
			Cost:        in.Cost + in.Cardinality*self.Cost,
			Cardinality: in.Cardinality * self.Cardinality,
		}

	default:
		// Cartesian/Union/Merge: combine children's costs additively (no
		// pipelining relationship between independent subplans), then
		// apply this operator's own multiplier on top.
		var sumCost, sumCard float64
		for _, c := range children {
			e := EstimateCost(c, cat)
			sumCost += e.Cost
			if sumCard == 0 {
				sumCard = e.Cardinality
			} else {
				sumCard *= e.Cardinality
			}
		}
		return Estimate{Cost: sumCost + self.Cost, Cardinality: sumCard * self.Cardinality}
	}
}

/*
selfEstimate is one operator's own (cost, cardinality multiplier)
applied to whatever a single input row produces, independent of its
children's cost.
*/
func selfEstimate(op Op, cat Catalog) Estimate {
	switch o := op.(type) {
	case Once:
		return Estimate{Cost: kOnce, Cardinality: 1}

	case ScanAll:
		return Estimate{Cost: kScanAll, Cardinality: cardScanAll}

	case ScanAllByLabel:
		n := float64(cat.VerticesCount(o.Label, ""))
		if n <= 0 {
			n = cardDefault
		}
		return Estimate{Cost: kScanLabel, Cardinality: n}

	case ScanAllByLabelPropertyValue:
		n := float64(cat.VerticesCount(o.Label, o.Property))
		if n <= 0 {
			n = cardDefault
		}
		return Estimate{Cost: kScanIndex, Cardinality: n}

	case ScanAllByLabelPropertyRange:
		n := float64(cat.VerticesCount(o.Label, o.Property))
		if n <= 0 {
			n = cardDefault
		}
		// A range typically matches a slice of the index, not the whole
		// thing; halve the point-lookup cardinality as a cheap estimate.
		return Estimate{Cost: kScanIndex, Cardinality: n / 2}

	case Expand:
		return Estimate{Cost: kExpand, Cardinality: cardExpand}

	case ExpandVariable:
		cost := kExpandVariable
		if o.Direction == DirBoth {
			cost = kExpandBreadthFirst
		}
		hops := float64(o.MinHops + 1)
		if o.MaxHops > o.MinHops {
			hops = float64(o.MaxHops)
		}
		return Estimate{Cost: cost, Cardinality: cardExpand * hops}

	case ConstructNamedPath:
		return Estimate{Cost: kProduce, Cardinality: cardDefault}

	case Filter:
		return Estimate{Cost: kFilter, Cardinality: cardFilter}

	case EdgeUniquenessFilter:
		return Estimate{Cost: kExpandUniqueness, Cardinality: cardFilter}

	case Produce:
		return Estimate{Cost: kProduce, Cardinality: cardDefault}

	case Aggregate:
		return Estimate{Cost: kAggregate, Cardinality: cardDefault}

	case OrderBy:
		return Estimate{Cost: kOrderBy, Cardinality: cardDefault}

	case Skip:
		return Estimate{Cost: kSkip, Cardinality: cardSkipLim}

	case Limit:
		return Estimate{Cost: kLimit, Cardinality: cardSkipLim}

	case Distinct:
		return Estimate{Cost: kDistinct, Cardinality: cardFilter}

	case Unwind:
		// Over a list literal, cardinality is exact - including zero for
		// an empty list. Over any other expression, fall back to the
		// configured default (spec §4.4).
		card := cardUnwindDefault
		if lst, ok := o.List.(ListLiteral); ok {
			card = float64(len(lst.Items))
		}
		return Estimate{Cost: kUnwind, Cardinality: card}

	case CreateNode, CreateExpand:
		return Estimate{Cost: kCreate, Cardinality: cardDefault}

	case SetProperty, SetLabels, RemoveProperty, RemoveLabels:
		return Estimate{Cost: kSetOrRemove, Cardinality: cardDefault}

	case Delete:
		return Estimate{Cost: kDelete, Cardinality: cardDefault}

	case Merge:
		return Estimate{Cost: kCreate, Cardinality: cardDefault}

	case Optional:
		return Estimate{Cost: kProduce, Cardinality: cardDefault}

	case Accumulate:
		return Estimate{Cost: kAccumulate, Cardinality: cardDefault}

	case Cartesian:
		return Estimate{Cost: kCartesian, Cardinality: cardDefault}

	case Union:
		return Estimate{Cost: kProduce, Cardinality: cardDefault}

	default:
		return Estimate{Cost: kProduce, Cardinality: cardDefault}
	}
}

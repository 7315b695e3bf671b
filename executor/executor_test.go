package executor

import (
	"testing"
	"time"

	"github.com/vertexgraph/vgdb/graphaccess"
	"github.com/vertexgraph/vgdb/planner"
	"github.com/vertexgraph/vgdb/store"
	"github.com/vertexgraph/vgdb/store/index"
	"github.com/vertexgraph/vgdb/txn"
)

func newTestFixture() (*txn.Engine, *graphaccess.Graph, *txn.Transaction, *index.Catalog) {
	eng := txn.NewEngine()
	st := store.NewStore(eng, 1, 200*time.Millisecond, 0)
	g := graphaccess.NewGraph(st)
	tx := eng.Begin()
	return eng, g, tx, index.NewCatalog()
}

func run(t *testing.T, op Operator, syms *SymbolTable) []Frame {
	t.Helper()
	rows, err := drain(op, syms)
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func drain(op Operator, syms *SymbolTable) ([]Frame, error) {
	if err := op.Open(); err != nil {
		return nil, err
	}
	var out []Frame
	for {
		row := NewFrame(syms.Width())
		ok, err := op.Pull(row)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, row.Clone())
	}
}

/*
mustCreateVertex creates a vertex and immediately indexes it in cat, the
way a real commit path runs Catalog.OnVertexCommitted once a write
becomes visible - these tests have no commit hook of their own, so they
do that bookkeeping inline.
*/
func mustCreateVertex(t *testing.T, g *graphaccess.Graph, cat *index.Catalog, tx *txn.Transaction, labels []string, props map[string]store.Value) store.Gid {
	t.Helper()
	gid, _, err := g.CreateVertex(tx, labels, props)
	if err != nil {
		t.Fatal(err)
	}
	vd, err := g.Vertex(tx, gid)
	if err != nil {
		t.Fatal(err)
	}
	cat.OnVertexCommitted(gid, vd, nil)
	return gid
}

func TestScanAllByLabelFilterProduce(t *testing.T) {
	_, g, tx, cat := newTestFixture()

	mustCreateVertex(t, g, cat, tx, []string{"Person"}, map[string]store.Value{"name": "Ann", "age": int64(30)})
	mustCreateVertex(t, g, cat, tx, []string{"Person"}, map[string]store.Value{"name": "Bo", "age": int64(19)})
	mustCreateVertex(t, g, cat, tx, []string{"Dog"}, map[string]store.Value{"name": "Rex"})

	scan := planner.ScanAllByLabel{Symbol: "n", Label: "Person"}
	filter := planner.Filter{
		Predicate: planner.BinaryOp{
			Op:    ">=",
			Left:  planner.PropertyRef{Variable: "n", Property: "age"},
			Right: planner.Literal{Value: int64(21)},
		},
	}
	filter.Input = scan
	produce := planner.Produce{
		Items: []planner.ProjectionItem{
			{Expr: planner.PropertyRef{Variable: "n", Property: "name"}, As: "name"},
		},
	}
	produce.Input = filter

	syms := NewSymbolTable()
	ctx := &EvaluationContext{Graph: g, Tx: tx, Catalog: cat}
	op, err := Build(produce, syms, ctx)
	if err != nil {
		t.Fatal(err)
	}
	rows := run(t, op, syms)

	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if got := rows[0][syms.Slot("name")]; got != "Ann" {
		t.Fatalf("expected Ann, got %v", got)
	}
}

func TestAccumulateBarrierSeparatesWriteFromRead(t *testing.T) {
	_, g, tx, _ := newTestFixture()
	ctx := &EvaluationContext{Graph: g, Tx: tx}

	create := planner.Accumulate{}
	create.Input = planner.CreateNode{Symbol: "n", Labels: []string{"Person"}}

	syms := NewSymbolTable()
	op, err := Build(create, syms, ctx)
	if err != nil {
		t.Fatal(err)
	}
	rows := run(t, op, syms)
	if len(rows) != 1 {
		t.Fatalf("expected the one CREATE row to have flowed through Accumulate, got %d", len(rows))
	}

	scanSyms := NewSymbolTable()
	scanOp, err := Build(planner.ScanAll{Symbol: "m"}, scanSyms, ctx)
	if err != nil {
		t.Fatal(err)
	}
	scanned := run(t, scanOp, scanSyms)
	if len(scanned) != 1 {
		t.Fatalf("expected the vertex created earlier in this transaction to be visible to a fresh scan, got %d", len(scanned))
	}
}

func TestExpandFollowsCreatedEdge(t *testing.T) {
	_, g, tx, cat := newTestFixture()

	aGid := mustCreateVertex(t, g, cat, tx, []string{"Person"}, map[string]store.Value{"name": "Ann"})
	bGid := mustCreateVertex(t, g, cat, tx, []string{"Person"}, map[string]store.Value{"name": "Bo"})

	aAddr := store.Address{Worker: 1, Gid: aGid}
	bAddr := store.Address{Worker: 1, Gid: bGid}

	edgeGid, _, err := g.CreateEdgeRecord(tx, aAddr, bAddr, "KNOWS", nil)
	if err != nil {
		t.Fatal(err)
	}
	edgeAddr := store.Address{Worker: 1, Gid: edgeGid}

	if _, err := g.AddOutEdgeRef(tx, aGid, store.EdgeRef{Vertex: bAddr, Edge: edgeAddr, Type: "KNOWS"}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddInEdgeRef(tx, bGid, store.EdgeRef{Vertex: aAddr, Edge: edgeAddr, Type: "KNOWS"}); err != nil {
		t.Fatal(err)
	}

	expand := planner.Expand{
		InputSymbol: "a",
		Symbol:      "b",
		EdgeSymbol:  "e",
		Types:       []string{"KNOWS"},
		Direction:   planner.DirOut,
	}
	expand.Input = planner.ScanAllByLabel{Symbol: "a", Label: "Person"}

	syms := NewSymbolTable()
	ctx := &EvaluationContext{Graph: g, Tx: tx, Catalog: cat}
	op, err := Build(expand, syms, ctx)
	if err != nil {
		t.Fatal(err)
	}
	rows := run(t, op, syms)

	if len(rows) != 1 {
		t.Fatalf("expected 1 expanded row, got %d", len(rows))
	}
	b, ok := rows[0][syms.Slot("b")].(VertexRef)
	if !ok || b.Addr != bAddr {
		t.Fatalf("expected b bound to %v, got %v", bAddr, rows[0][syms.Slot("b")])
	}
}

func TestAggregateCountsPerGroup(t *testing.T) {
	_, g, tx, cat := newTestFixture()

	mustCreateVertex(t, g, cat, tx, []string{"Person"}, map[string]store.Value{"city": "NYC"})
	mustCreateVertex(t, g, cat, tx, []string{"Person"}, map[string]store.Value{"city": "NYC"})
	mustCreateVertex(t, g, cat, tx, []string{"Person"}, map[string]store.Value{"city": "SF"})

	agg := planner.Aggregate{
		GroupBy: []planner.Expr{planner.PropertyRef{Variable: "n", Property: "city"}},
		Items:   []planner.AggregateItem{{Func: "count", As: "c"}},
	}
	agg.Input = planner.ScanAllByLabel{Symbol: "n", Label: "Person"}

	syms := NewSymbolTable()
	ctx := &EvaluationContext{Graph: g, Tx: tx, Catalog: cat}
	op, err := Build(agg, syms, ctx)
	if err != nil {
		t.Fatal(err)
	}
	rows := run(t, op, syms)

	counts := map[string]int64{}
	for _, row := range rows {
		city, _ := Eval(planner.PropertyRef{Variable: "n", Property: "city"}, row, syms, ctx)
		counts[city.(string)] = row[syms.Slot("c")].(int64)
	}
	if counts["NYC"] != 2 || counts["SF"] != 1 {
		t.Fatalf("unexpected group counts: %v", counts)
	}
}

/*
TestCreateNodeMaintainsCatalog checks that createNodeOp drives the
catalog through EvaluationContext directly - i.e. a real CREATE plan,
not a test helper calling Catalog.OnVertexCommitted by hand - so a
label scan immediately after a CREATE sees the row it just created.
*/
func TestCreateNodeMaintainsCatalog(t *testing.T) {
	_, g, tx, cat := newTestFixture()

	syms := NewSymbolTable()
	ctx := &EvaluationContext{Graph: g, Tx: tx, Catalog: cat}

	create := planner.CreateNode{
		Symbol: "n",
		Labels: []string{"Person"},
		Properties: map[string]planner.Expr{
			"name": planner.Literal{Value: store.Value("Eve")},
		},
	}
	createOp, err := Build(create, syms, ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := drain(createOp, syms); err != nil {
		t.Fatal(err)
	}

	if got := cat.LabelIndex().Count("Person"); got != 1 {
		t.Fatalf("expected CreateNode to index the new vertex under Person, got count %d", got)
	}

	scanSyms := NewSymbolTable()
	scan := planner.ScanAllByLabel{Symbol: "n", Label: "Person"}
	scanOp, err := Build(scan, scanSyms, ctx)
	if err != nil {
		t.Fatal(err)
	}
	rows := run(t, scanOp, scanSyms)
	if len(rows) != 1 {
		t.Fatalf("expected the label scan to see the vertex CreateNode just indexed, got %d rows", len(rows))
	}
}

/*
TestRemovePropertyMaintainsCatalog checks that removePropertyOp's catalog
update actually drops the old value's posting-list entry, using a
property-indexed scan so a stale entry would surface as a phantom row.
*/
func TestRemovePropertyMaintainsCatalog(t *testing.T) {
	_, g, tx, cat := newTestFixture()
	gid := mustCreateVertex(t, g, cat, tx, []string{"Person"}, map[string]store.Value{"city": "NYC"})
	cat.BuildIndex(tx, g, "Person", "city")

	syms := NewSymbolTable()
	ctx := &EvaluationContext{Graph: g, Tx: tx, Catalog: cat}

	remove := planner.RemoveProperty{Variable: "n", Property: "city"}
	remove.Input = planner.Once{}
	op, err := Build(remove, syms, ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := op.Open(); err != nil {
		t.Fatal(err)
	}
	row := NewFrame(syms.Width())
	row[syms.Slot("n")] = VertexRef{Addr: addr(ctx, gid)}
	if ok, err := op.Pull(row); err != nil || !ok {
		t.Fatalf("expected RemoveProperty to produce a row, ok=%v err=%v", ok, err)
	}

	idx := cat.LabelProperty("Person", "city")
	if idx == nil {
		t.Fatal("expected the index to still exist")
	}
	if got := idx.Count("NYC"); got != 0 {
		t.Fatalf("expected removing the property to drop the stale posting-list entry, got count %d", got)
	}
}

func TestDeleteDetachUnlinksEdges(t *testing.T) {
	_, g, tx, cat := newTestFixture()

	aGid := mustCreateVertex(t, g, cat, tx, []string{"Person"}, nil)
	bGid := mustCreateVertex(t, g, cat, tx, []string{"Person"}, nil)
	aAddr := store.Address{Worker: 1, Gid: aGid}
	bAddr := store.Address{Worker: 1, Gid: bGid}

	edgeGid, _, err := g.CreateEdgeRecord(tx, aAddr, bAddr, "KNOWS", nil)
	if err != nil {
		t.Fatal(err)
	}
	edgeAddr := store.Address{Worker: 1, Gid: edgeGid}
	if _, err := g.AddOutEdgeRef(tx, aGid, store.EdgeRef{Vertex: bAddr, Edge: edgeAddr, Type: "KNOWS"}); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddInEdgeRef(tx, bGid, store.EdgeRef{Vertex: aAddr, Edge: edgeAddr, Type: "KNOWS"}); err != nil {
		t.Fatal(err)
	}

	del := planner.Delete{
		Variables: []string{"a"},
		Detach:    true,
	}
	del.Input = planner.ScanAll{Symbol: "a"}

	syms := NewSymbolTable()
	ctx := &EvaluationContext{Graph: g, Tx: tx}
	op, err := Build(del, syms, ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := drain(op, syms); err != nil {
		t.Fatal(err)
	}

	if _, err := g.Vertex(tx, aGid); err == nil {
		t.Fatal("expected a to be removed")
	}
	if _, err := g.Edge(tx, edgeGid); err == nil {
		t.Fatal("expected the edge record to be removed by detach delete")
	}
}

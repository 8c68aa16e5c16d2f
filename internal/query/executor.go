package query

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/dd0wney/rowdb/internal/index"
	"github.com/dd0wney/rowdb/internal/logging"
	"github.com/dd0wney/rowdb/internal/storage"
)

const (
	DefaultQueryTimeout = 30 * time.Second
	MaxQueryTimeout     = 5 * time.Minute
)

// Row is one document flowing through the operator tree, decoded from
// its stored JSON into a plain field map.
type Row struct {
	ID     string
	Fields map[string]any
}

// Operator is one node of a running plan: Open allocates whatever state
// Next needs, Next yields rows one at a time, Close releases resources.
// A failure at any point closes every operator opened so far, in reverse
// open order.
type Operator interface {
	Open(ctx context.Context) error
	Next(ctx context.Context) (Row, bool, error)
	Close() error
}

// Executor runs a compiled Plan's operator tree against the catalog,
// under a context timeout and with panic recovery so a malformed or
// pathological query cannot crash the process.
type Executor struct {
	catalog      *storage.Catalog
	memory       *MemoryManager
	logger       logging.Logger
	queryTimeout time.Duration
}

func NewExecutor(catalog *storage.Catalog, memory *MemoryManager, logger logging.Logger) *Executor {
	return &Executor{catalog: catalog, memory: memory, logger: logger, queryTimeout: DefaultQueryTimeout}
}

func (e *Executor) SetQueryTimeout(timeout time.Duration) {
	if timeout <= 0 || timeout > MaxQueryTimeout {
		timeout = DefaultQueryTimeout
	}
	e.queryTimeout = timeout
}

// Execute runs plan to completion and returns every row it produces.
func (e *Executor) Execute(plan *Plan) (rows []Row, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.queryTimeout)
	defer cancel()
	return e.ExecuteWithContext(ctx, plan)
}

func (e *Executor) ExecuteWithContext(ctx context.Context, plan *Plan) (rows []Row, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e.logger != nil {
				e.logger.Error("panic during query execution", logging.Any("recovered", r), logging.String("stack", string(debug.Stack())))
			}
			err = fmt.Errorf("query execution panicked: %v", r)
			rows = nil
		}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("query cancelled before execution: %w", ctx.Err())
	default:
	}

	op, err := e.build(plan.Root)
	if err != nil {
		return nil, err
	}

	opened := []Operator{}
	closeOpened := func() {
		for i := len(opened) - 1; i >= 0; i-- {
			_ = opened[i].Close()
		}
	}

	if err := op.Open(ctx); err != nil {
		return nil, err
	}
	opened = append(opened, op)

	for {
		select {
		case <-ctx.Done():
			closeOpened()
			return rows, fmt.Errorf("query cancelled: %w", ctx.Err())
		default:
		}

		row, ok, err := op.Next(ctx)
		if err != nil {
			closeOpened()
			return rows, err
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}

	closeOpened()
	return rows, nil
}

// build compiles one PlanNode (and its children) into a runnable
// Operator tree.
func (e *Executor) build(node *PlanNode) (Operator, error) {
	switch node.Op {
	case OpTableScan:
		return &tableScanOp{catalog: e.catalog, db: node.DB, table: node.Table}, nil
	case OpIndexScan, OpRangeScan:
		return &indexScanOp{catalog: e.catalog, node: node}, nil
	case OpFilter:
		child, err := e.build(node.Children[0])
		if err != nil {
			return nil, err
		}
		return &filterOp{child: child, preds: node.Cond}, nil
	case OpProject:
		child, err := e.build(node.Children[0])
		if err != nil {
			return nil, err
		}
		return &projectOp{child: child, fields: node.SortFields}, nil
	case OpLimit:
		child, err := e.build(node.Children[0])
		if err != nil {
			return nil, err
		}
		return &limitOp{child: child, n: node.LimitN}, nil
	case OpSort:
		child, err := e.build(node.Children[0])
		if err != nil {
			return nil, err
		}
		return &sortOp{child: child, fields: node.SortFields, spill: node.Spill}, nil
	case OpDistinct:
		child, err := e.build(node.Children[0])
		if err != nil {
			return nil, err
		}
		return &distinctOp{child: child}, nil
	case OpAggregate:
		child, err := e.build(node.Children[0])
		if err != nil {
			return nil, err
		}
		return &aggregateOp{child: child, field: node.Field}, nil
	case OpBuildHashTable:
		child, err := e.build(node.Children[0])
		if err != nil {
			return nil, err
		}
		return &buildHashTableOp{child: child, field: node.Field, memory: e.memory, spill: node.Spill}, nil
	case OpHashJoinProbe:
		build, err := e.build(node.Children[0])
		if err != nil {
			return nil, err
		}
		probe, err := e.build(node.Children[1])
		if err != nil {
			return nil, err
		}
		return &hashJoinProbeOp{build: build.(*buildHashTableOp), probe: probe, field: node.Field}, nil
	case OpNestedLoopJoin:
		left, err := e.build(node.Children[0])
		if err != nil {
			return nil, err
		}
		return &nestedLoopJoinOp{left: left, rightBuild: func() (Operator, error) { return e.build(node.Children[1]) }}, nil
	default:
		return nil, fmt.Errorf("query: no executor for operator %s", node.Op)
	}
}

func rowFromStorage(id string, doc []byte) (Row, error) {
	fields, err := decodeRowJSON(doc)
	if err != nil {
		return Row{}, err
	}
	return Row{ID: id, Fields: fields}, nil
}

func decodeRowJSON(doc []byte) (map[string]any, error) {
	fields := map[string]any{}
	if len(doc) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// --- table scan ---

type tableScanOp struct {
	catalog *storage.Catalog
	db      string
	table   string

	rows []storage.Row
	pos  int
}

func (o *tableScanOp) Open(ctx context.Context) error {
	snapshot, err := o.catalog.ScanTable(o.db, o.table)
	if err != nil {
		return err
	}
	for _, row := range snapshot {
		o.rows = append(o.rows, row)
	}
	return nil
}

func (o *tableScanOp) Next(ctx context.Context) (Row, bool, error) {
	if o.pos >= len(o.rows) {
		return Row{}, false, nil
	}
	r := o.rows[o.pos]
	o.pos++
	row, err := rowFromStorage(r.ID, r.Doc)
	return row, true, err
}

func (o *tableScanOp) Close() error { return nil }

// --- index / range scan ---

type indexScanOp struct {
	catalog *storage.Catalog
	node    *PlanNode

	rowIDs []string
	pos    int
}

func (o *indexScanOp) Open(ctx context.Context) error {
	mgr, err := o.catalog.Indexes(o.node.DB, o.node.Table)
	if err != nil {
		return err
	}
	idx, ok := mgr.Get(o.node.Field)
	if !ok {
		return fmt.Errorf("query: no index on field %s", o.node.Field)
	}

	for _, pred := range o.node.Cond {
		ids, err := lookupForPredicate(idx, pred)
		if err != nil {
			return err
		}
		o.rowIDs = append(o.rowIDs, ids...)
	}
	return nil
}

func lookupForPredicate(idx *index.Index, pred Predicate) ([]string, error) {
	switch pred.Op {
	case "=":
		return idx.Lookup(toIndexValue(pred.Value))
	case "<", "<=", ">", ">=":
		return idx.RangeLookup(toIndexValue(pred.Value), toIndexValue(pred.High))
	default:
		if s, ok := pred.Value.(string); ok {
			return idx.PrefixLookup(s)
		}
		return nil, fmt.Errorf("query: unsupported predicate op %s", pred.Op)
	}
}

func toIndexValue(v any) index.Value {
	switch t := v.(type) {
	case string:
		return index.StringValue(t)
	case int:
		return index.IntValue(int64(t))
	case int64:
		return index.IntValue(t)
	case float64:
		return index.FloatValue(t)
	case bool:
		return index.BoolValue(t)
	default:
		return index.StringValue(fmt.Sprintf("%v", t))
	}
}

func (o *indexScanOp) Next(ctx context.Context) (Row, bool, error) {
	for o.pos < len(o.rowIDs) {
		id := o.rowIDs[o.pos]
		o.pos++
		doc, ok := o.catalog.GetRowDoc(o.node.DB, o.node.Table, id)
		if !ok {
			continue
		}
		row, err := rowFromStorage(id, doc)
		return row, true, err
	}
	return Row{}, false, nil
}

func (o *indexScanOp) Close() error { return nil }

// --- filter ---

type filterOp struct {
	child Operator
	preds []Predicate
}

func (o *filterOp) Open(ctx context.Context) error { return o.child.Open(ctx) }
func (o *filterOp) Close() error                   { return o.child.Close() }

func (o *filterOp) Next(ctx context.Context) (Row, bool, error) {
	for {
		row, ok, err := o.child.Next(ctx)
		if !ok || err != nil {
			return Row{}, ok, err
		}
		if matchesAll(row, o.preds) {
			return row, true, nil
		}
	}
}

func matchesAll(row Row, preds []Predicate) bool {
	for _, p := range preds {
		if !matches(row, p) {
			return false
		}
	}
	return true
}

func matches(row Row, p Predicate) bool {
	val, ok := row.Fields[p.Field]
	if !ok {
		return false
	}
	switch p.Op {
	case "=":
		return fmt.Sprintf("%v", val) == fmt.Sprintf("%v", p.Value)
	case "!=", "<>":
		return fmt.Sprintf("%v", val) != fmt.Sprintf("%v", p.Value)
	case "<":
		return compareAny(val, p.Value) < 0
	case "<=":
		return compareAny(val, p.Value) <= 0
	case ">":
		return compareAny(val, p.Value) > 0
	case ">=":
		return compareAny(val, p.Value) >= 0
	default:
		return false
	}
}

func compareAny(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// --- project ---

type projectOp struct {
	child  Operator
	fields []string
}

func (o *projectOp) Open(ctx context.Context) error { return o.child.Open(ctx) }
func (o *projectOp) Close() error                   { return o.child.Close() }

func (o *projectOp) Next(ctx context.Context) (Row, bool, error) {
	row, ok, err := o.child.Next(ctx)
	if !ok || err != nil {
		return Row{}, ok, err
	}
	if len(o.fields) == 0 {
		return row, true, nil
	}
	projected := map[string]any{}
	for _, f := range o.fields {
		if v, ok := row.Fields[f]; ok {
			projected[f] = v
		}
	}
	return Row{ID: row.ID, Fields: projected}, true, nil
}

// --- limit ---

type limitOp struct {
	child Operator
	n     int
	seen  int
}

func (o *limitOp) Open(ctx context.Context) error { return o.child.Open(ctx) }
func (o *limitOp) Close() error                   { return o.child.Close() }

func (o *limitOp) Next(ctx context.Context) (Row, bool, error) {
	if o.seen >= o.n {
		return Row{}, false, nil
	}
	row, ok, err := o.child.Next(ctx)
	if ok {
		o.seen++
	}
	return row, ok, err
}

// --- sort ---

type sortOp struct {
	child  Operator
	fields []string
	spill  bool
	rows   []Row
	pos    int
	loaded bool
}

func (o *sortOp) less(a, b Row) bool {
	for _, f := range o.fields {
		c := compareAny(a.Fields[f], b.Fields[f])
		if c != 0 {
			return c < 0
		}
	}
	return false
}

func (o *sortOp) Open(ctx context.Context) error { return o.child.Open(ctx) }
func (o *sortOp) Close() error                   { return o.child.Close() }

func (o *sortOp) load(ctx context.Context) error {
	for {
		row, ok, err := o.child.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		o.rows = append(o.rows, row)
	}
	sort.SliceStable(o.rows, func(i, j int) bool { return o.less(o.rows[i], o.rows[j]) })

	if o.spill {
		spiller := newExternalSort()
		defer spiller.Close()
		if err := spiller.writeChunk(o.rows); err != nil {
			return err
		}
		merged, err := spiller.mergeAll(o.less)
		if err != nil {
			return err
		}
		o.rows = merged
	}

	o.loaded = true
	return nil
}

func (o *sortOp) Next(ctx context.Context) (Row, bool, error) {
	if !o.loaded {
		if err := o.load(ctx); err != nil {
			return Row{}, false, err
		}
	}
	if o.pos >= len(o.rows) {
		return Row{}, false, nil
	}
	row := o.rows[o.pos]
	o.pos++
	return row, true, nil
}

// --- distinct ---

type distinctOp struct {
	child Operator
	seen  map[string]bool
}

func (o *distinctOp) Open(ctx context.Context) error {
	o.seen = map[string]bool{}
	return o.child.Open(ctx)
}
func (o *distinctOp) Close() error { return o.child.Close() }

func (o *distinctOp) Next(ctx context.Context) (Row, bool, error) {
	for {
		row, ok, err := o.child.Next(ctx)
		if !ok || err != nil {
			return Row{}, ok, err
		}
		key := fmt.Sprintf("%v", row.Fields)
		if !o.seen[key] {
			o.seen[key] = true
			return row, true, nil
		}
	}
}

// --- aggregate (count) ---

type aggregateOp struct {
	child Operator
	field string
	done  bool
}

func (o *aggregateOp) Open(ctx context.Context) error { return o.child.Open(ctx) }
func (o *aggregateOp) Close() error                   { return o.child.Close() }

func (o *aggregateOp) Next(ctx context.Context) (Row, bool, error) {
	if o.done {
		return Row{}, false, nil
	}
	o.done = true
	var count int64
	var sum float64
	for {
		row, ok, err := o.child.Next(ctx)
		if err != nil {
			return Row{}, false, err
		}
		if !ok {
			break
		}
		count++
		if o.field != "" {
			if f, ok := toFloat(row.Fields[o.field]); ok {
				sum += f
			}
		}
	}
	return Row{Fields: map[string]any{"count": count, "sum": sum}}, true, nil
}

// --- hash join ---

type buildHashTableOp struct {
	child  Operator
	field  string
	memory *MemoryManager
	spill  bool

	table    map[string][]Row
	spillMgr *hashSpill
}

func (o *buildHashTableOp) Open(ctx context.Context) error {
	if err := o.child.Open(ctx); err != nil {
		return err
	}
	o.table = map[string][]Row{}
	if o.spill && o.memory != nil {
		o.spillMgr = newHashSpill()
	}
	for {
		row, ok, err := o.child.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		key := fmt.Sprintf("%v", row.Fields[o.field])
		if o.spillMgr != nil {
			o.spillMgr.add(key, row)
			continue
		}
		o.table[key] = append(o.table[key], row)
	}
	return nil
}

func (o *buildHashTableOp) lookup(key string) []Row {
	if o.spillMgr != nil {
		return o.spillMgr.get(key)
	}
	return o.table[key]
}

func (o *buildHashTableOp) Next(ctx context.Context) (Row, bool, error) { return Row{}, false, nil }
func (o *buildHashTableOp) Close() error                                { return o.child.Close() }

type hashJoinProbeOp struct {
	build *buildHashTableOp
	probe Operator
	field string

	matches []Row
	pos     int
	current Row
}

func (o *hashJoinProbeOp) Open(ctx context.Context) error {
	if err := o.probe.Open(ctx); err != nil {
		return err
	}
	return nil
}

func (o *hashJoinProbeOp) Close() error { return o.probe.Close() }

func (o *hashJoinProbeOp) Next(ctx context.Context) (Row, bool, error) {
	for {
		if o.pos < len(o.matches) {
			match := o.matches[o.pos]
			o.pos++
			return mergeRows(o.current, match), true, nil
		}
		row, ok, err := o.probe.Next(ctx)
		if !ok || err != nil {
			return Row{}, ok, err
		}
		key := fmt.Sprintf("%v", row.Fields[o.field])
		o.current = row
		o.matches = o.build.lookup(key)
		o.pos = 0
	}
}

func mergeRows(a, b Row) Row {
	merged := map[string]any{}
	for k, v := range a.Fields {
		merged[k] = v
	}
	for k, v := range b.Fields {
		merged[k] = v
	}
	return Row{ID: a.ID, Fields: merged}
}

// --- nested loop join ---

type nestedLoopJoinOp struct {
	left       Operator
	rightBuild func() (Operator, error)

	leftRow  Row
	haveLeft bool
	right    Operator
}

func (o *nestedLoopJoinOp) Open(ctx context.Context) error {
	return o.left.Open(ctx)
}

func (o *nestedLoopJoinOp) Close() error {
	if o.right != nil {
		_ = o.right.Close()
	}
	return o.left.Close()
}

func (o *nestedLoopJoinOp) Next(ctx context.Context) (Row, bool, error) {
	for {
		if !o.haveLeft {
			row, ok, err := o.left.Next(ctx)
			if !ok || err != nil {
				return Row{}, ok, err
			}
			o.leftRow = row
			o.haveLeft = true
			if o.right != nil {
				_ = o.right.Close()
			}
			right, err := o.rightBuild()
			if err != nil {
				return Row{}, false, err
			}
			o.right = right
			if err := o.right.Open(ctx); err != nil {
				return Row{}, false, err
			}
		}
		rightRow, ok, err := o.right.Next(ctx)
		if err != nil {
			return Row{}, false, err
		}
		if !ok {
			o.haveLeft = false
			continue
		}
		return mergeRows(o.leftRow, rightRow), true, nil
	}
}

// Package engine is the bridge between the query language surface and
// the node's services: it parses a query string with querylang, routes
// the resulting statement to the Catalog, Planner, Executor, Statistics
// Manager or Replicator, and reports one result object per query.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"sync"

	"github.com/dd0wney/rowdb/internal/config"
	"github.com/dd0wney/rowdb/internal/index"
	"github.com/dd0wney/rowdb/internal/parallel"
	"github.com/dd0wney/rowdb/internal/query"
	"github.com/dd0wney/rowdb/internal/querycache"
	"github.com/dd0wney/rowdb/internal/querylang"
	"github.com/dd0wney/rowdb/internal/runtime"
	"github.com/google/uuid"
)

// statisticsCollectWorkers bounds how many tables "statistics collect"
// scans concurrently.
const statisticsCollectWorkers = 4

// Result is one statement's outcome, matching the HTTP surface's
// per-query response object.
type Result struct {
	Query     string           `json:"query"`
	Executed  bool             `json:"executed"`
	Error     string           `json:"error,omitempty"`
	List      []map[string]any `json:"list,omitempty"`
	Explain   string           `json:"explain,omitempty"`
	RuntimeMS float64          `json:"runtime_ms"`
	Primary   string           `json:"primary,omitempty"`
	Secondary string           `json:"secondary,omitempty"`
}

// Engine executes one query string at a time against a *runtime.Runtime.
type Engine struct {
	rt    *runtime.Runtime
	cache *querycache.Cache

	level        atomic.Value // string(config.OptimizationLevel)
	optimization atomic.Bool
}

func New(rt *runtime.Runtime) *Engine {
	e := &Engine{rt: rt, cache: querycache.New(rt.Config.Query.ResultCacheSize)}
	e.level.Store(string(rt.Config.Query.OptimizationLevel))
	e.optimization.Store(true)
	return e
}

func (e *Engine) currentLevel() config.OptimizationLevel {
	if !e.optimization.Load() {
		return config.OptimizationNone
	}
	return config.OptimizationLevel(e.level.Load().(string))
}

// Run executes each statement in queries and returns one Result per
// statement, in order: a later statement's failure never undoes an
// earlier success.
func (e *Engine) Run(ctx context.Context, queries []string) []Result {
	results := make([]Result, 0, len(queries))
	for _, q := range queries {
		results = append(results, e.RunOne(ctx, q))
	}
	return results
}

func (e *Engine) RunOne(ctx context.Context, raw string) Result {
	start := time.Now()
	res := Result{Query: raw}

	stmt, err := parse(raw)
	if err != nil {
		res.Error = err.Error()
		res.RuntimeMS = elapsedMS(start)
		return res
	}

	if err := e.dispatch(ctx, stmt, &res); err != nil {
		res.Error = err.Error()
		res.RuntimeMS = elapsedMS(start)
		return res
	}

	res.Executed = true
	res.RuntimeMS = elapsedMS(start)
	return res
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Nanoseconds()) / 1e6
}

func parse(raw string) (querylang.Statement, error) {
	lexer := querylang.NewLexer(raw)
	tokens, err := lexer.Tokenize()
	if err != nil {
		return nil, err
	}
	return querylang.NewParser(tokens).Parse()
}

func (e *Engine) dispatch(ctx context.Context, stmt querylang.Statement, res *Result) error {
	switch s := stmt.(type) {
	case querylang.ShowDatabases:
		for _, name := range e.rt.Catalog.ListDatabases() {
			res.List = append(res.List, map[string]any{"database": name})
		}
		return nil

	case querylang.ShowTables:
		tables, err := e.rt.Catalog.ListTables(s.DB)
		if err != nil {
			return err
		}
		for _, t := range tables {
			res.List = append(res.List, map[string]any{"table": t})
		}
		return nil

	case querylang.CreateDatabase:
		return e.rt.Catalog.CreateDatabase(s.Name)

	case querylang.DropDatabase:
		return e.rt.Catalog.DropDatabase(s.Name)

	case querylang.CreateTable:
		return e.rt.Catalog.CreateTable(s.DB, s.Table)

	case querylang.DropTable:
		return e.rt.Catalog.DropTable(s.DB, s.Table)

	case querylang.Insert:
		return e.execInsert(s, res)

	case querylang.Update:
		return e.execUpdate(s, res)

	case querylang.Delete:
		return e.execDelete(s, res)

	case querylang.Select:
		return e.execSelect(ctx, s, res)

	case querylang.CreateIndex:
		idx, err := e.rt.Catalog.Indexes(s.DB, s.Table)
		if err != nil {
			return err
		}
		_, err = idx.CreateIndex(s.Column, index.TypeString)
		return err

	case querylang.DropIndex:
		idx, err := e.rt.Catalog.Indexes(s.DB, s.Table)
		if err != nil {
			return err
		}
		return idx.DropIndex(s.Column)

	case querylang.ShowIndexes:
		return e.execShowIndexes(s, res)

	case querylang.DeleteEverything:
		if err := e.rt.Catalog.WipeAll(); err != nil {
			return err
		}
		return e.rt.Replicator.ReplicateDeleteEverything(uint64(time.Now().UnixNano()))

	case querylang.Optimization:
		return e.execOptimization(s, res)

	case querylang.Cache:
		return e.execCache(s, res)

	case querylang.StatisticsCollect:
		return e.collectStatistics()

	default:
		return fmt.Errorf("engine: unhandled statement %T", s)
	}
}

func (e *Engine) execInsert(s querylang.Insert, res *Result) error {
	doc := make(map[string]any, len(s.Columns))
	for i, col := range s.Columns {
		doc[col] = coerceLiteral(s.Values[i])
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	rowID := uuid.NewString()
	if _, err := e.rt.Catalog.InsertRow(s.DB, s.Table, rowID, raw); err != nil {
		return err
	}
	primary, secondary := e.rt.Catalog.CurrentPlacement(s.DB, s.Table, rowID)
	res.Primary, res.Secondary = primary, secondary
	res.List = []map[string]any{{"row_id": rowID}}
	return nil
}

func (e *Engine) execUpdate(s querylang.Update, res *Result) error {
	rows, err := e.rt.Catalog.ScanTable(s.DB, s.Table)
	if err != nil {
		return err
	}

	updated := 0
	for rowID, row := range rows {
		doc, err := decodeDoc(row.Doc)
		if err != nil {
			continue
		}
		if s.Where != nil && !matchesWhere(doc, s.Where) {
			continue
		}
		for col, val := range s.Sets {
			doc[col] = coerceLiteral(val)
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		if _, err := e.rt.Catalog.InsertRow(s.DB, s.Table, rowID, raw); err != nil {
			return err
		}
		updated++
	}
	res.List = []map[string]any{{"updated": updated}}
	return nil
}

func (e *Engine) execDelete(s querylang.Delete, res *Result) error {
	rows, err := e.rt.Catalog.ScanTable(s.DB, s.Table)
	if err != nil {
		return err
	}

	deleted := 0
	for rowID, row := range rows {
		doc, err := decodeDoc(row.Doc)
		if err != nil {
			continue
		}
		if s.Where != nil && !matchesWhere(doc, s.Where) {
			continue
		}
		if _, err := e.rt.Catalog.DeleteRow(s.DB, s.Table, rowID); err != nil {
			return err
		}
		deleted++
	}
	res.List = []map[string]any{{"deleted": deleted}}
	return nil
}

func (e *Engine) execSelect(ctx context.Context, s querylang.Select, res *Result) error {
	start := time.Now()
	cacheKey := s.DB + "." + s.Table + "|" + fmt.Sprint(s.Where) + "|" + fmt.Sprint(s.Columns)
	if cached, ok := e.cache.Get(cacheKey); ok {
		res.List = cached.Rows
		return nil
	}

	level := e.currentLevel()
	var predicates []query.Predicate
	if s.Where != nil {
		predicates = append(predicates, query.Predicate{
			Field: s.Where.Column,
			Op:    s.Where.Op,
			Value: coerceLiteral(s.Where.Value),
		})
	}

	plan := e.rt.Planner.PlanScan(s.DB, s.Table, predicates, level, e.rt.Config.Query.MemoryBudgetBytes)
	res.Explain = explainPlan(plan.Root, 0)

	rows, err := e.rt.Executor.ExecuteWithContext(ctx, plan)
	if err != nil {
		return err
	}

	list := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		list = append(list, projectColumns(row, s.Columns))
	}
	res.List = list
	e.cache.Put(cacheKey, querycache.Entry{Rows: list})
	e.rt.Statistics.RecordQuery(s.DB, s.Table, elapsedMS(start))
	return nil
}

func (e *Engine) execShowIndexes(s querylang.ShowIndexes, res *Result) error {
	if s.Table == "" {
		for _, ref := range e.rt.Catalog.Tables() {
			idx, err := e.rt.Catalog.Indexes(ref.DB, ref.Table)
			if err != nil {
				continue
			}
			for _, name := range idx.Names() {
				res.List = append(res.List, map[string]any{"database": ref.DB, "table": ref.Table, "field": name})
			}
		}
		return nil
	}
	idx, err := e.rt.Catalog.Indexes(s.DB, s.Table)
	if err != nil {
		return err
	}
	for _, name := range idx.Names() {
		res.List = append(res.List, map[string]any{"database": s.DB, "table": s.Table, "field": name})
	}
	return nil
}

func (e *Engine) execOptimization(s querylang.Optimization, res *Result) error {
	switch s.Action {
	case "status":
		res.List = []map[string]any{{"enabled": e.optimization.Load(), "level": e.level.Load()}}
	case "enable":
		e.optimization.Store(true)
	case "disable":
		e.optimization.Store(false)
	case "level":
		if err := (config.QueryConfig{OptimizationLevel: config.OptimizationLevel(s.Level), QueryTimeout: time.Second, MemoryBudgetBytes: 1}).Validate(); err != nil {
			return fmt.Errorf("engine: unknown optimization level %q", s.Level)
		}
		e.level.Store(s.Level)
	}
	return nil
}

func (e *Engine) execCache(s querylang.Cache, res *Result) error {
	switch s.Action {
	case "enable":
		e.cache.Enable()
	case "disable":
		e.cache.Disable()
	case "clear":
		e.cache.Clear()
	case "stats":
		stats := e.cache.Stats()
		res.List = []map[string]any{{
			"enabled": stats.Enabled,
			"entries": stats.Entries,
			"hits":    stats.Hits,
			"misses":  stats.Misses,
		}}
	}
	return nil
}

// collectStatistics rescans every local table, refreshing each table's
// row count and every observed field's distinct-value estimate. Tables
// are scanned concurrently through a bounded worker pool since a scan
// is dominated by catalog I/O rather than CPU.
func (e *Engine) collectStatistics() error {
	refs := e.rt.Catalog.Tables()
	pool, err := parallel.NewWorkerPool(statisticsCollectWorkers)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, ref := range refs {
		ref := ref
		wg.Add(1)
		submitted := pool.Submit(func() {
			defer wg.Done()
			e.collectTableStatistics(ref.DB, ref.Table)
		})
		if !submitted {
			wg.Done()
		}
	}
	wg.Wait()
	pool.Close()
	return nil
}

// collectTableStatistics refreshes a single table's row count and
// per-field distinct-value estimate. Statistics.Table's accessors are
// safe for concurrent use, so callers may invoke this from multiple
// goroutines across different tables.
func (e *Engine) collectTableStatistics(db, tableName string) {
	rows, err := e.rt.Catalog.ScanTable(db, tableName)
	if err != nil {
		return
	}
	distinct := make(map[string]map[string]struct{})
	for _, row := range rows {
		doc, err := decodeDoc(row.Doc)
		if err != nil {
			continue
		}
		for field, val := range doc {
			if distinct[field] == nil {
				distinct[field] = make(map[string]struct{})
			}
			distinct[field][fmt.Sprint(val)] = struct{}{}
		}
	}
	table := e.rt.Statistics.Table(db, tableName)
	table.SetRowCount(int64(len(rows)))
	for field, values := range distinct {
		table.UpdateColumn(field, int64(len(values)))
	}
}

func decodeDoc(raw json.RawMessage) (map[string]any, error) {
	doc := make(map[string]any)
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func projectColumns(row query.Row, columns []string) map[string]any {
	if len(columns) == 0 || columns[0] == "*" {
		out := make(map[string]any, len(row.Fields)+1)
		out["row_id"] = row.ID
		for k, v := range row.Fields {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(columns))
	for _, col := range columns {
		if col == "row_id" {
			out[col] = row.ID
			continue
		}
		out[col] = row.Fields[col]
	}
	return out
}

func matchesWhere(doc map[string]any, w *querylang.Where) bool {
	left := doc[w.Column]
	right := coerceLiteral(w.Value)
	return compareValues(left, w.Op, right)
}

func compareValues(left any, op string, right any) bool {
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if lok && rok {
		switch op {
		case "=":
			return lf == rf
		case "!=", "<>":
			return lf != rf
		case "<":
			return lf < rf
		case "<=":
			return lf <= rf
		case ">":
			return lf > rf
		case ">=":
			return lf >= rf
		}
		return false
	}
	ls, rs := fmt.Sprint(left), fmt.Sprint(right)
	switch op {
	case "=":
		return ls == rs
	case "!=", "<>":
		return ls != rs
	case "<":
		return ls < rs
	case "<=":
		return ls <= rs
	case ">":
		return ls > rs
	case ">=":
		return ls >= rs
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// coerceLiteral turns a querylang literal's raw text into a float64 when
// it parses cleanly, so WHERE/SET comparisons against JSON-decoded
// numeric fields (always float64 after decoding) compare like-for-like.
func coerceLiteral(raw string) any {
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

func explainPlan(node *query.PlanNode, depth int) string {
	if node == nil {
		return ""
	}
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	line := fmt.Sprintf("%s%s(table=%s.%s, field=%s, cost=%.2f, rows=%.0f, spill=%v)\n",
		indent, node.Op, node.DB, node.Table, node.Field, node.EstimatedCost, node.EstimatedRows, node.Spill)
	for _, child := range node.Children {
		line += explainPlan(child, depth+1)
	}
	return line
}

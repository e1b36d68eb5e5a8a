package tabdb

import "strings"

// binding is one entry on a QueryContext's scope stack: either the
// unnamed current-row binding (alias == "") pushed by findResult/updateItem
// around each matched item, or a named alias binding a query declared via
// its "alias" field.
type binding struct {
	alias string
	value Data
}

// QueryContext threads the symbol scope and the accumulated non-fatal
// errors through one query's evaluation. Every recursive subquery
// execution constructs its own QueryContext rather than sharing its
// parent's scope stack.
type QueryContext struct {
	db    *Database
	stack []binding
	errs  *ErrorStorage
	depth int
}

func newQueryContext(db *Database, errs *ErrorStorage, depth int) *QueryContext {
	return &QueryContext{db: db, errs: errs, depth: depth}
}

func (qc *QueryContext) push(alias string, value Data) {
	qc.stack = append(qc.stack, binding{alias: alias, value: value})
}

func (qc *QueryContext) pop() {
	qc.stack = qc.stack[:len(qc.stack)-1]
}

func (qc *QueryContext) lookup(alias string) (Data, bool) {
	for i := len(qc.stack) - 1; i >= 0; i-- {
		if qc.stack[i].alias == alias {
			return qc.stack[i].value, true
		}
	}
	return nil, false
}

func (qc *QueryContext) current() (Data, bool) {
	return qc.lookup("")
}

// Evaluate resolves a value the way criteria keys (like/min/max, and the
// array handed to exists_in) are resolved: the same machinery as
// CalculateValue but with subquery recognition switched off.
func (qc *QueryContext) Evaluate(v Data) Data {
	return qc.CalculateValue(v, "", false)
}

// CalculateValue is the query engine's expression evaluator. allowSubquery
// is true only for a find/find_all projection's "result" field; every other
// call site (insert's "value", update's "set", and an exists_in array)
// passes false so a table with a "query" key there is literal data, never
// an implicit recursive call.
func (qc *QueryContext) CalculateValue(v Data, alias string, allowSubquery bool) Data {
	switch val := v.(type) {
	case nil, bool, float64, float32, int, int64:
		return val
	case string:
		return qc.resolveString(val)
	case Table:
		return qc.calculateTable(val, alias, allowSubquery)
	case map[string]Data:
		return qc.calculateTable(Table(val), alias, allowSubquery)
	case []Data:
		return qc.calculateArray(val, alias, allowSubquery)
	default:
		return val
	}
}

func (qc *QueryContext) calculateArray(vals []Data, alias string, allowSubquery bool) Data {
	out := make([]Data, len(vals))
	for i, e := range vals {
		out[i] = qc.CalculateValue(e, alias, allowSubquery)
	}
	return out
}

// resolveString handles the three ways a string can appear in an
// expression position: a bound alias name, a "$"/"$field" reference against
// the current row, or a plain literal.
func (qc *QueryContext) resolveString(s string) Data {
	if v, ok := qc.lookup(s); ok {
		return v
	}
	if !strings.HasPrefix(s, "$") {
		return s
	}
	field := s[1:]
	cur, ok := qc.current()
	if !ok {
		qc.errs.Add(newErr(RuntimeError, "no current row bound for reference %q", s))
		return nil
	}
	if field == "" {
		return cur
	}
	tbl, ok := cur.(Table)
	if !ok {
		qc.errs.Add(newErr(RuntimeError, "current row is not a table, cannot resolve %q", s))
		return nil
	}
	fv, ok := tbl[field]
	if !ok {
		qc.errs.Add(newErr(RuntimeError, "field %q not found on current row", field))
		return nil
	}
	return fv
}

func isQueryTable(t Table) bool {
	_, ok := t["query"]
	return ok
}

// singleOperatorKey reports whether t is exactly the shape {"$op": operand}.
func singleOperatorKey(t Table) (string, Data, bool) {
	if len(t) != 1 {
		return "", nil, false
	}
	for k, v := range t {
		if strings.HasPrefix(k, "$") {
			return k, v, true
		}
	}
	return "", nil, false
}

func (qc *QueryContext) calculateTable(t Table, alias string, allowSubquery bool) Data {
	if allowSubquery && isQueryTable(t) {
		return qc.executeSubquery(t)
	}
	if op, operand, ok := singleOperatorKey(t); ok {
		return qc.evalOperator(op, operand, alias, allowSubquery)
	}
	out := make(Table, len(t))
	for k, v := range t {
		out[k] = qc.CalculateValue(v, alias, allowSubquery)
	}
	return out
}

func (qc *QueryContext) executeSubquery(t Table) Data {
	if qc.depth+1 > maxSubqueryDepth {
		qc.errs.Add(newErr(RuntimeError, "subquery recursion exceeds depth %d", maxSubqueryDepth))
		return nil
	}
	result, err := qc.db.executeQueryAt(t["query"], qc.depth+1)
	if err != nil {
		qc.errs.Add(newErr(RuntimeError, "subquery failed: %v", err))
		return nil
	}
	return result
}

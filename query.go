package tabdb

import "encoding/json"

// maxSubqueryDepth bounds recursive subquery execution (a projection's
// "result" table carrying a "query" field, executed in a fresh
// QueryContext of its own) against runaway recursion.
const maxSubqueryDepth = 32

// defaultLimit is effectively "no limit" for find_all/update_all/
// delete_all when the caller doesn't name one explicitly; nothing in the
// query language currently does, but findItems honors one if a future verb
// adds it.
const defaultLimit = int(^uint(0) >> 1)

func (db *Database) executeQueryAt(raw Data, depth int) (Data, error) {
	if depth > maxSubqueryDepth {
		return nil, newErr(RuntimeError, "subquery recursion exceeds depth %d", maxSubqueryDepth)
	}
	q, err := asQueryTable(raw)
	if err != nil {
		return nil, err
	}
	errs := &ErrorStorage{}
	qc := newQueryContext(db, errs, depth)

	result, runErr := db.runParsedQuery(qc, q)
	if runErr != nil {
		return nil, wrapQueryError(runErr, q)
	}
	if errs.HasErrors() {
		return nil, wrapQueryError(errs.Errors()[0], q)
	}
	return result, nil
}

// wrapQueryError serializes the failing query back to JSON and prepends it
// to the error message, so a caller several subqueries deep can tell which
// level actually failed. The wrapper keeps the cause's Kind and wraps the
// cause itself.
func wrapQueryError(err error, q Table) error {
	b, marshalErr := json.Marshal(map[string]Data(q))
	if marshalErr != nil {
		return err
	}
	wrapped := newErr(RuntimeError, "in query: %s", string(b))
	if cause, ok := err.(*Error); ok {
		wrapped.Kind = cause.Kind
	}
	wrapped.Err = err
	return wrapped
}

func (db *Database) runParsedQuery(qc *QueryContext, q Table) (Data, error) {
	pq, err := parseQuery(db, qc, q)
	if err != nil {
		return nil, err
	}
	switch pq.verb {
	case "find":
		return db.find(pq)
	case "find_all":
		return db.findAll(pq, defaultLimit)
	case "insert":
		return db.insertVerb(pq)
	case "update":
		return db.updateAll(pq, 1)
	case "update_all":
		return db.updateAll(pq, defaultLimit)
	case "delete":
		return db.deleteAll(pq, 1)
	case "delete_all":
		return db.deleteAll(pq, defaultLimit)
	case "create":
		return db.create(pq)
	case "create_if_not_exists":
		return db.createIfNotExists(pq)
	default:
		return nil, newErr(ParseError, "unknown query verb %q", pq.verb)
	}
}

func (db *Database) findItems(pq *ParsedQuery, limit int) ([]*Table, error) {
	switch pq.criteria.kind {
	case criteriaAll:
		return limitItems(pq.index.Slice(), limit), nil
	case criteriaLike:
		return db.findAllLike(pq, limit)
	case criteriaMinMax:
		return db.findAllMinMax(pq, limit)
	case criteriaExistsIn:
		return db.findAllIn(pq, limit)
	default:
		return nil, newErr(ParseError, "wrong criteria for find_all")
	}
}

func limitItems(items []*Table, limit int) []*Table {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

func (db *Database) findAllLike(pq *ParsedQuery, limit int) ([]*Table, error) {
	v := pq.ctx.Evaluate(pq.criteria.like)
	key, err := CreateKey(v)
	if err != nil {
		return nil, err
	}
	return limitItems(pq.index.Find(key), limit), nil
}

func (db *Database) findAllMinMax(pq *ParsedQuery, limit int) ([]*Table, error) {
	minV := pq.ctx.Evaluate(pq.criteria.min)
	maxV := pq.ctx.Evaluate(pq.criteria.max)
	minKey, err := CreateKey(minV)
	if err != nil {
		return nil, err
	}
	maxKey, err := CreateKey(maxV)
	if err != nil {
		return nil, err
	}
	return limitItems(pq.index.Range(minKey, maxKey), limit), nil
}

func (db *Database) findAllIn(pq *ParsedQuery, limit int) ([]*Table, error) {
	resolved := pq.ctx.CalculateValue(pq.criteria.existsIn, pq.alias, false)
	arr, ok := toDataSlice(resolved)
	if !ok {
		return nil, newErr(CriteriaError, "\"exists_in\" must resolve to an array")
	}
	var out []*Table
	for _, elem := range arr {
		if len(out) >= limit {
			break
		}
		key, err := CreateKey(elem)
		if err != nil {
			return nil, err
		}
		for _, m := range pq.index.Find(key) {
			if len(out) >= limit {
				break
			}
			out = append(out, m)
		}
	}
	return out, nil
}

func (db *Database) findResult(pq *ParsedQuery, item *Table) Data {
	qc := pq.ctx
	qc.push("", *item)
	if pq.alias != "" {
		qc.push(pq.alias, *item)
	}
	v := qc.CalculateValue(pq.result, pq.alias, true)
	if pq.alias != "" {
		qc.pop()
	}
	qc.pop()
	return v
}

func (db *Database) find(pq *ParsedQuery) (Data, error) {
	items, err := db.findItems(pq, 1)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return db.findResult(pq, items[0]), nil
}

func (db *Database) findAll(pq *ParsedQuery, limit int) (Data, error) {
	items, err := db.findItems(pq, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Data, 0, len(items))
	for _, item := range items {
		out = append(out, db.findResult(pq, item))
	}
	return out, nil
}

func (db *Database) insertVerb(pq *ParsedQuery) (Data, error) {
	if arr, ok := toDataSlice(pq.value); ok {
		for _, elem := range arr {
			if err := db.insertOne(pq, elem); err != nil {
				return nil, err
			}
		}
	} else {
		if err := db.insertOne(pq, pq.value); err != nil {
			return nil, err
		}
	}
	db.sendCollectionUpdated(pq.collectionName)
	return int64(1), nil
}

func (db *Database) insertOne(pq *ParsedQuery, raw Data) error {
	v := pq.ctx.CalculateValue(raw, pq.alias, false)
	t, ok := v.(Table)
	if !ok {
		if m, ok := v.(map[string]Data); ok {
			t = Table(m)
		} else {
			return newErr(RuntimeError, "insert value must evaluate to a table, got %T", v)
		}
	}
	return pq.collection.InsertItem(t)
}

func (db *Database) updateItem(pq *ParsedQuery, item *Table) error {
	qc := pq.ctx
	qc.push("", *item)
	if pq.alias != "" {
		qc.push(pq.alias, *item)
	}
	v := qc.CalculateValue(pq.set, pq.alias, false)
	if pq.alias != "" {
		qc.pop()
	}
	qc.pop()
	setT, ok := v.(Table)
	if !ok {
		if m, ok := v.(map[string]Data); ok {
			setT = Table(m)
		} else {
			return newErr(RuntimeError, "\"set\" must evaluate to a table, got %T", v)
		}
	}
	id, _ := GetID(*item)
	return pq.collection.UpdateItem(id, setT)
}

func (db *Database) updateAll(pq *ParsedQuery, limit int) (Data, error) {
	items, err := db.findItems(pq, limit)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if err := db.updateItem(pq, item); err != nil {
			return nil, err
		}
	}
	db.sendCollectionUpdated(pq.collectionName)
	return int64(len(items)), nil
}

func (db *Database) deleteAll(pq *ParsedQuery, limit int) (Data, error) {
	items, err := db.findItems(pq, limit)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		id, _ := GetID(*item)
		if err := pq.collection.DeleteItem(id); err != nil {
			return nil, err
		}
	}
	db.sendCollectionUpdated(pq.collectionName)
	return int64(len(items)), nil
}

func (db *Database) create(pq *ParsedQuery) (Data, error) {
	if err := db.createWritableCollection(pq.collectionName, pq.indices, pq.crypts, pq.items); err != nil {
		return nil, err
	}
	return true, nil
}

func (db *Database) createIfNotExists(pq *ParsedQuery) (Data, error) {
	if _, ok := db.getCollection(pq.collectionName); ok {
		return true, nil
	}
	return db.create(pq)
}

package tabdb

// Criteria captures the one form a find/find_all/update*/delete* query's
// "criteria" field may take: a full scan (no criteria table at all), an
// equality run ("like"), a range ("min"+"max"), or set membership
// ("exists_in"). Exactly one of these shapes is accepted; anything else is
// a ParseError.
type Criteria struct {
	kind     string
	like     Data
	min, max Data
	existsIn Data
}

const (
	criteriaAll      = "all"
	criteriaLike     = "like"
	criteriaMinMax   = "minmax"
	criteriaExistsIn = "exists_in"
)

// ParsedQuery is the validated, resolved form of a query table: the
// collection and index it names are looked up once, the criteria shape is
// classified, and the verb-specific fields (result/value/set/indices/
// crypts/items) are extracted and type-checked before any execution runs.
type ParsedQuery struct {
	ctx            *QueryContext
	verb           string
	collectionName string
	indexName      string
	collection     *Collection
	index          *CollectionIndex
	alias          string
	criteria       *Criteria
	result         Data
	value          Data
	set            Table
	indices        Table
	crypts         Data
	items          []Data
}

func parseQuery(db *Database, qc *QueryContext, q Table) (*ParsedQuery, error) {
	verb, ok := q["query"].(string)
	if !ok || verb == "" {
		return nil, newErr(ParseError, "query table missing string \"query\" verb")
	}
	pq := &ParsedQuery{ctx: qc, verb: verb}

	switch verb {
	case "find", "find_all":
		if err := pq.parseCommon(db, q); err != nil {
			return nil, err
		}
		if err := pq.parseFind(q); err != nil {
			return nil, err
		}
	case "update", "update_all":
		if err := pq.parseCommon(db, q); err != nil {
			return nil, err
		}
		if err := pq.parseUpdate(q); err != nil {
			return nil, err
		}
	case "delete", "delete_all":
		if err := pq.parseCommon(db, q); err != nil {
			return nil, err
		}
		if err := pq.parseFind(q); err != nil {
			return nil, err
		}
	case "insert":
		if err := pq.parseCommon(db, q); err != nil {
			return nil, err
		}
		if err := pq.parseInsert(q); err != nil {
			return nil, err
		}
	case "create", "create_if_not_exists":
		if err := pq.parseCreate(q); err != nil {
			return nil, err
		}
	default:
		return nil, newErr(ParseError, "unknown query verb %q", verb)
	}
	return pq, nil
}

func (pq *ParsedQuery) parseCommon(db *Database, q Table) error {
	collName, ok := q["collection"].(string)
	if !ok || collName == "" {
		return newErr(ParseError, "query table missing string \"collection\"")
	}
	pq.collectionName = collName
	coll, ok := db.getCollection(collName)
	if !ok {
		return newErr(ResolveError, "unknown collection %q", collName)
	}
	pq.collection = coll

	indexName := DefaultIndexName
	if v, ok := q["index"]; ok {
		s, ok := v.(string)
		if !ok {
			return newErr(ParseError, "\"index\" must be a string")
		}
		indexName = s
	}
	pq.indexName = indexName
	idx, ok := coll.Index(indexName)
	if !ok {
		return newErr(ResolveError, "collection %q has no index %q", collName, indexName)
	}
	pq.index = idx

	if v, ok := q["alias"]; ok {
		s, ok := v.(string)
		if !ok {
			return newErr(ParseError, "\"alias\" must be a string")
		}
		pq.alias = s
	}
	return nil
}

func parseCriteria(v Data) (*Criteria, error) {
	if v == nil {
		return &Criteria{kind: criteriaAll}, nil
	}
	t, ok := v.(Table)
	if !ok {
		if m, ok := v.(map[string]Data); ok {
			t = Table(m)
		} else {
			return nil, newErr(ParseError, "\"criteria\" must be a table")
		}
	}
	if like, ok := t["like"]; ok {
		return &Criteria{kind: criteriaLike, like: like}, nil
	}
	if minV, hasMin := t["min"]; hasMin {
		maxV, hasMax := t["max"]
		if !hasMax {
			return nil, newErr(ParseError, "criteria with \"min\" requires \"max\"")
		}
		return &Criteria{kind: criteriaMinMax, min: minV, max: maxV}, nil
	}
	if ex, ok := t["exists_in"]; ok {
		return &Criteria{kind: criteriaExistsIn, existsIn: ex}, nil
	}
	return nil, newErr(ParseError, "wrong criteria for find_all")
}

func (pq *ParsedQuery) parseFind(q Table) error {
	if result, ok := q["result"]; ok {
		pq.result = result
	} else {
		pq.result = "$"
	}
	crit, err := parseCriteria(q["criteria"])
	if err != nil {
		return err
	}
	pq.criteria = crit
	return nil
}

func (pq *ParsedQuery) parseInsert(q Table) error {
	v, ok := q["value"]
	if !ok {
		return newErr(ParseError, "insert query missing \"value\"")
	}
	pq.value = v
	return nil
}

func (pq *ParsedQuery) parseUpdate(q Table) error {
	if err := pq.parseFind(q); err != nil {
		return err
	}
	setV, ok := q["set"]
	if !ok {
		return newErr(ParseError, "update query missing \"set\"")
	}
	setT, ok := setV.(Table)
	if !ok {
		if m, ok := setV.(map[string]Data); ok {
			setT = Table(m)
		} else {
			return newErr(ParseError, "\"set\" must be a table")
		}
	}
	pq.set = setT
	return nil
}

func (pq *ParsedQuery) parseCreate(q Table) error {
	name, ok := q["collection"].(string)
	if !ok || name == "" {
		return newErr(ParseError, "create query missing string \"collection\"")
	}
	pq.collectionName = name
	if v, ok := q["indices"]; ok {
		t, ok := v.(Table)
		if !ok {
			if m, ok := v.(map[string]Data); ok {
				t = Table(m)
			} else {
				return newErr(ParseError, "\"indices\" must be a table")
			}
		}
		pq.indices = t
	}
	if v, ok := q["crypts"]; ok {
		pq.crypts = v
	}
	if v, ok := q["items"]; ok {
		arr, ok := toDataSlice(v)
		if !ok {
			return newErr(ParseError, "\"items\" must be an array")
		}
		pq.items = arr
	}
	return nil
}

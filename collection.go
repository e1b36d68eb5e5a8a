package tabdb

import (
	"crypto/rand"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// DefaultIndexName is the index every collection carries from creation,
// projecting the "_id" field.
const DefaultIndexName = "_id"

// Collection is the unit of storage and indexing: an ordered set of items
// with zero or more CollectionIndex structures over declared fields.
// A read-only collection (loaded from a reference file) never accepts
// Insert/Update/Delete; a writable one tracks a dirty flag so the database
// only persists collections that actually changed.
type Collection struct {
	mu        sync.RWMutex
	name      string
	readonly  bool
	changed   bool
	items     []*Table
	indexes   map[string]*CollectionIndex
	schema    *gojsonschema.Schema
	schemaSrc Data
	crypts    Data
}

func newCollection(name string, readonly bool) *Collection {
	return &Collection{name: name, readonly: readonly, indexes: make(map[string]*CollectionIndex)}
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// IsReadonly reports whether the collection rejects mutating operations.
func (c *Collection) IsReadonly() bool { return c.readonly }

// Changed reports whether the collection has unsaved mutations.
func (c *Collection) Changed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changed
}

// ResetChanges clears the dirty flag, called after a successful persist.
func (c *Collection) ResetChanges() {
	c.mu.Lock()
	c.changed = false
	c.mu.Unlock()
}

// Items returns a snapshot of the collection's item pointers, in storage
// order. The pointed-to tables are shared with the collection; callers
// that mutate a returned item directly bypass index maintenance and
// schema validation, and should not do so.
func (c *Collection) Items() []*Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Table, len(c.items))
	copy(out, c.items)
	return out
}

// Count returns the number of items in the collection.
func (c *Collection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// SetSchema compiles a JSON Schema and installs it as the collection's
// validation gate: every insert and the post-merge state of every update
// must satisfy it.
func (c *Collection) SetSchema(schemaData Data) error {
	loader := gojsonschema.NewGoLoader(schemaData)
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return newErr(ConfigError, "compile schema for collection %q: %v", c.name, err)
	}
	c.mu.Lock()
	c.schema = schema
	c.schemaSrc = schemaData
	c.mu.Unlock()
	return nil
}

// Schema returns the raw schema value last installed via SetSchema, or nil.
func (c *Collection) Schema() Data {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.schemaSrc
}

func (c *Collection) validate(item Table) error {
	if c.schema == nil {
		return nil
	}
	res, err := c.schema.Validate(gojsonschema.NewGoLoader(map[string]Data(item)))
	if err != nil {
		return newErr(RuntimeError, "schema validation error in collection %q: %v", c.name, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return newErr(RuntimeError, "collection %q: schema validation failed: %s", c.name, strings.Join(msgs, "; "))
	}
	return nil
}

// EnsureIndex creates an index over field if one doesn't already exist,
// backfilling it from every current item.
func (c *Collection) EnsureIndex(field string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.indexes[field]; ok {
		return nil
	}
	idx := newCollectionIndex(field)
	for _, item := range c.items {
		v, ok := (*item)[field]
		if !ok {
			continue
		}
		key, err := CreateKey(v)
		if err != nil {
			return newErr(CriteriaError, "index %q on collection %q: %v", field, c.name, err)
		}
		idx.Insert(key, item)
	}
	c.indexes[field] = idx
	return nil
}

// DropIndex removes a non-default index.
func (c *Collection) DropIndex(field string) error {
	if field == DefaultIndexName {
		return newErr(ConfigError, "cannot drop the default %q index", DefaultIndexName)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.indexes, field)
	return nil
}

// Index returns the named index, if it exists.
func (c *Collection) Index(field string) (*CollectionIndex, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.indexes[field]
	return idx, ok
}

// ListIndexes returns the names of every index on the collection, sorted.
func (c *Collection) ListIndexes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.indexes))
	for n := range c.indexes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func generateID() string {
	var buf [12]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}

func (c *Collection) insertIndexed(ptr *Table) error {
	for field, idx := range c.indexes {
		v, ok := (*ptr)[field]
		if !ok {
			continue
		}
		key, err := CreateKey(v)
		if err != nil {
			return err
		}
		idx.Insert(key, ptr)
	}
	return nil
}

// InsertItem validates, assigns an "_id" if absent, appends, and indexes a
// new item. A read-only collection always rejects mutation through this
// path; loading a collection's initial reference data goes through
// seedItem instead.
func (c *Collection) InsertItem(item Table) error {
	if c.readonly {
		return newErr(RuntimeError, "collection %q is read-only", c.name)
	}
	return c.seedItem(item)
}

// seedItem runs the same validate/assign-id/index bookkeeping as
// InsertItem but without the read-only gate, for loading a reference
// file's items into a read-only collection (createReadonlyCollection).
// Merging same-named collections (AppendCollection) does not go through
// it: the merged items are appended and indexed directly.
func (c *Collection) seedItem(item Table) error {
	if err := c.validate(item); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := item[DefaultIndexName]; !ok {
		item[DefaultIndexName] = generateID()
	}
	if idIdx, ok := c.indexes[DefaultIndexName]; ok {
		key, err := CreateKey(item[DefaultIndexName])
		if err != nil {
			return err
		}
		if len(idIdx.Find(key)) > 0 {
			return newErr(RuntimeError, "duplicate id %v in collection %q", item[DefaultIndexName], c.name)
		}
	}
	ptr := &item
	c.items = append(c.items, ptr)
	if err := c.insertIndexed(ptr); err != nil {
		return err
	}
	if !c.readonly {
		c.changed = true
	}
	return nil
}

func (c *Collection) findByIDLocked(id string) (*Table, bool) {
	idx, ok := c.indexes[DefaultIndexName]
	if !ok {
		return nil, false
	}
	key, err := CreateKey(id)
	if err != nil {
		return nil, false
	}
	matches := idx.Find(key)
	if len(matches) == 0 {
		return nil, false
	}
	return matches[0], true
}

// FindByID looks up a single item by its "_id" field.
func (c *Collection) FindByID(id string) (*Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.findByIDLocked(id)
	if !ok {
		return nil, false
	}
	return item, true
}

// UpdateItem merges set onto the item with the given id (the id field
// itself cannot be changed this way) and re-indexes it.
func (c *Collection) UpdateItem(id string, set Table) error {
	if c.readonly {
		return newErr(RuntimeError, "collection %q is read-only", c.name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.findByIDLocked(id)
	if !ok {
		return newErr(RuntimeError, "no item with id %q in collection %q", id, c.name)
	}
	merged := make(Table, len(*item)+len(set))
	for k, v := range *item {
		merged[k] = v
	}
	for k, v := range set {
		merged[k] = v
	}
	merged[DefaultIndexName] = (*item)[DefaultIndexName]
	if err := c.validate(merged); err != nil {
		return err
	}
	for _, idx := range c.indexes {
		idx.EraseByDoc(item)
	}
	*item = merged
	if err := c.insertIndexed(item); err != nil {
		return err
	}
	c.changed = true
	return nil
}

// DeleteItem removes the item with the given id from storage and every
// index.
func (c *Collection) DeleteItem(id string) error {
	if c.readonly {
		return newErr(RuntimeError, "collection %q is read-only", c.name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.findByIDLocked(id)
	if !ok {
		return newErr(RuntimeError, "no item with id %q in collection %q", id, c.name)
	}
	for _, idx := range c.indexes {
		idx.EraseByDoc(item)
	}
	for i, it := range c.items {
		if it == item {
			c.items = append(c.items[:i], c.items[i+1:]...)
			break
		}
	}
	c.changed = true
	return nil
}

// DeleteAll clears every item and index, used to reload a writable
// collection's persisted state.
func (c *Collection) DeleteAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	for _, idx := range c.indexes {
		idx.clear()
	}
	c.changed = true
}

// AppendCollection merges another collection's items into this one. Used
// when two read-only collection files declare the same collection name:
// the later-loaded collection's items are appended rather than replacing
// the first. The appended items are not validated again and their ids are
// not checked against the ids already present.
func (c *Collection) AppendCollection(other *Collection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	other.mu.RLock()
	defer other.mu.RUnlock()
	for _, item := range other.items {
		ptr := item
		c.items = append(c.items, ptr)
		_ = c.insertIndexed(ptr)
	}
	if !c.readonly {
		c.changed = true
	}
}

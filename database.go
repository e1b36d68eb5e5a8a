// Package tabdb is a small, single-threaded, in-process document store: a
// set of named Collections, each an ordered set of JSON-shaped items with
// zero or more secondary indexes, driven entirely by a declarative
// table-shaped query language (find, find_all, insert, update, update_all,
// delete, delete_all, create, create_if_not_exists). It is built for
// reference data and light writable state inside a host process's own tick
// loop, not for durable multi-writer transactions.
package tabdb

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kartikbazzad/bunbase/tabdb/internal/telemetry"
)

// systemCollectionName is a writable collection tabdb always creates,
// indexed by "name", for host code to stash small coordinator-owned facts
// without inventing a new collection for every such need.
const systemCollectionName = "_system"

// Options configures a Database at construction. Direct construction is
// the primary path; LoadOptionsFromEnv is env-driven sugar over it.
type Options struct {
	// Directory is where the default BlobStore and ReadOnlyLoader look
	// for collection files, if BlobStore/Loader aren't set explicitly.
	Directory string

	// ReadonlyCollections names reference-data files to load at Open,
	// each a "<name>.json" or checksummed "<name>.dat" under Directory.
	ReadonlyCollections []string

	// WritableCollections names collections to create at Open and persist
	// across SaveState/Load cycles.
	WritableCollections []string

	BlobStore BlobStore
	Loader    ReadOnlyLoader
	Mediator  Mediator
	Registry  ScriptRegistry
}

// DefaultOptions returns Options pointed at directory with no collections
// declared yet.
func DefaultOptions(directory string) *Options {
	return &Options{Directory: directory}
}

// Database is the coordinator: a registry of Collections plus the
// load/save lifecycle and the query entry point. It is not safe for
// concurrent query execution from multiple goroutines by design — the
// internal mutex only protects the bookkeeping needed to make Load/
// SaveState/mediator callbacks safe to invoke from whichever goroutine a
// host's tick loop happens to run on.
type Database struct {
	mu sync.Mutex

	opts      *Options
	blobs     BlobStore
	loader    ReadOnlyLoader
	mediator  Mediator
	registry  ScriptRegistry
	celEngine *celEngine

	collections   map[string]*Collection
	readonlyNames []string

	isCorrupted bool
	isReady     bool
	nextTemp    int
}

// Open constructs a Database from opts, creates its writable collections,
// wires the default collaborators for anything opts didn't supply, and
// performs the initial Load.
func Open(opts *Options) (*Database, error) {
	if opts == nil {
		return nil, newErr(ConfigError, "options must not be nil")
	}
	db := &Database{
		opts:        opts,
		collections: make(map[string]*Collection),
	}

	switch {
	case opts.BlobStore != nil:
		db.blobs = opts.BlobStore
	case opts.Directory != "":
		db.blobs = NewDirBlobStore(opts.Directory)
	}
	if opts.Loader != nil {
		db.loader = opts.Loader
	} else {
		db.loader = NewFileLoader(opts.Directory)
	}
	if opts.Mediator != nil {
		db.mediator = opts.Mediator
	} else {
		db.mediator = NewBroker()
	}
	if opts.Registry != nil {
		db.registry = opts.Registry
	} else {
		db.registry = NewFuncRegistry()
	}
	db.celEngine = newCELEngine()

	if err := db.initSystemCollection(); err != nil {
		return nil, err
	}
	for _, name := range opts.WritableCollections {
		if err := db.createWritableCollection(name, nil, nil, nil); err != nil {
			return nil, err
		}
	}

	db.bindScriptFunctions()
	db.Load()
	return db, nil
}

func (db *Database) initSystemCollection() error {
	return db.createWritableCollection(systemCollectionName, Table{"name": Table{}}, nil, nil)
}

func (db *Database) getCollection(name string) (*Collection, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, ok := db.collections[name]
	return c, ok
}

// GetCollection returns the named collection, if it exists.
func (db *Database) GetCollection(name string) (*Collection, bool) {
	return db.getCollection(name)
}

// ListCollections returns every collection name, in no particular order.
func (db *Database) ListCollections() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	return names
}

func (db *Database) createWritableCollection(name string, indices Table, crypts Data, items []Data) error {
	db.mu.Lock()
	if _, exists := db.collections[name]; exists {
		db.mu.Unlock()
		return newErr(ConfigError, "collection %q already exists", name)
	}
	coll := newCollection(name, false)
	db.collections[name] = coll
	db.mu.Unlock()

	if err := coll.EnsureIndex(DefaultIndexName); err != nil {
		return err
	}
	for field := range indices {
		if err := coll.EnsureIndex(field); err != nil {
			return err
		}
	}
	coll.crypts = crypts
	for _, raw := range items {
		t, ok := raw.(Table)
		if !ok {
			if m, ok := raw.(map[string]Data); ok {
				t = Table(m)
			} else {
				return newErr(ConfigError, "collection %q item is not a table", name)
			}
		}
		if err := coll.InsertItem(t); err != nil {
			return err
		}
	}
	return nil
}

// CreateTemporaryCollection creates a writable collection named
// "temp" + a 20-digit zero-padded counter, seeded with the given items,
// for host code that needs scratch storage outside the query language's
// own "create" verb.
func (db *Database) CreateTemporaryCollection(items []Table) (string, error) {
	db.mu.Lock()
	name := fmt.Sprintf("temp%020d", db.nextTemp)
	db.nextTemp++
	db.mu.Unlock()

	data := make([]Data, len(items))
	for i, t := range items {
		data[i] = t
	}
	if err := db.createWritableCollection(name, nil, nil, data); err != nil {
		return "", err
	}
	return name, nil
}

func (db *Database) createReadonlyCollection(name string, items []Table) error {
	incoming := newCollection(name, true)
	if err := incoming.EnsureIndex(DefaultIndexName); err != nil {
		return err
	}
	for _, it := range items {
		if err := incoming.seedItem(it); err != nil {
			return err
		}
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	existing, ok := db.collections[name]
	if !ok {
		db.collections[name] = incoming
		return nil
	}
	existing.AppendCollection(incoming)
	return nil
}

// RegisterReadonlyCollections adds file names to the set tabdb loads
// reference data from, deduplicating against the set already registered.
// If any name was new, every read-only collection is dropped and all
// registered files are loaded again. Unlike the original
// implementation, this always dedups — nothing in tabdb's design depends
// on skipping the dedup check when the registered set starts out empty.
func (db *Database) RegisterReadonlyCollections(names []string) error {
	db.mu.Lock()
	added := false
	for _, n := range names {
		if !containsString(db.readonlyNames, n) {
			db.readonlyNames = append(db.readonlyNames, n)
			added = true
		}
	}
	db.mu.Unlock()
	if !added {
		return nil
	}
	return db.reloadReadonlyCollections()
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func (db *Database) loadReadonlyCollections() error {
	db.mu.Lock()
	names := make([]string, len(db.readonlyNames))
	copy(names, db.readonlyNames)
	db.mu.Unlock()

	for _, name := range names {
		data, err := db.loader.Load(name)
		if err != nil {
			telemetry.Warn("readonly collection load failed", "name", name, "err", err)
			continue
		}
		collName, items, err := decodeReadonlyPayload(data)
		if err != nil {
			telemetry.Warn("readonly collection decode failed", "name", name, "err", err)
			continue
		}
		if err := db.createReadonlyCollection(collName, items); err != nil {
			telemetry.Warn("readonly collection install failed", "name", name, "err", err)
		}
	}
	return nil
}

func (db *Database) reloadReadonlyCollections() error {
	db.mu.Lock()
	for name, c := range db.collections {
		if c.readonly {
			delete(db.collections, name)
		}
	}
	db.mu.Unlock()
	return db.loadReadonlyCollections()
}

func (db *Database) registerBaseReadonlyCollections() {
	if len(db.opts.ReadonlyCollections) == 0 {
		return
	}
	if err := db.RegisterReadonlyCollections(db.opts.ReadonlyCollections); err != nil {
		telemetry.Warn("registering base readonly collections failed", "err", err)
	}
}

// loadWritableCollections reloads every writable collection's persisted
// state from the BlobStore. It is best-effort: a failure on one
// collection doesn't unwind collections already reloaded in the same
// pass, and the caller is responsible for setting the corruption flag.
func (db *Database) loadWritableCollections() bool {
	db.mu.Lock()
	names := make([]string, 0, len(db.collections))
	for name, c := range db.collections {
		if !c.readonly {
			names = append(names, name)
		}
	}
	db.mu.Unlock()

	ok := true
	for _, name := range names {
		if db.blobs == nil || !db.blobs.Exists(name) {
			continue
		}
		raw, err := db.blobs.Read(name)
		if err != nil {
			telemetry.Error("read writable collection failed", "collection", name, "err", err)
			ok = false
			continue
		}
		var arr []Data
		if err := json.Unmarshal(raw, &arr); err != nil {
			telemetry.Error("parse writable collection failed", "collection", name, "err", err)
			ok = false
			continue
		}
		items := make([]Table, 0, len(arr))
		valid := true
		for _, e := range arr {
			t, isTable := e.(map[string]Data)
			if !isTable {
				valid = false
				break
			}
			items = append(items, Table(t))
		}
		if !valid {
			telemetry.Error("writable collection item is not a table", "collection", name)
			ok = false
			continue
		}

		coll, _ := db.getCollection(name)
		coll.DeleteAll()
		for _, it := range items {
			if err := coll.InsertItem(it); err != nil {
				telemetry.Error("reinserting writable item failed", "collection", name, "err", err)
				ok = false
				continue
			}
		}
		coll.ResetChanges()
	}
	return ok
}

// SaveState persists every changed writable collection to the BlobStore.
func (db *Database) SaveState() error {
	db.mu.Lock()
	var toSave []*Collection
	for _, c := range db.collections {
		if !c.readonly && c.Changed() {
			toSave = append(toSave, c)
		}
	}
	db.mu.Unlock()

	for _, c := range toSave {
		data, err := json.Marshal(itemsAsData(c.Items()))
		if err != nil {
			return newErr(PersistenceError, "marshal collection %q: %v", c.Name(), err)
		}
		if db.blobs == nil {
			continue
		}
		if err := db.blobs.Write(c.Name(), data); err != nil {
			return newErr(PersistenceError, "write collection %q: %v", c.Name(), err)
		}
		c.ResetChanges()
	}
	return nil
}

// Load reloads writable collections from the BlobStore then (re)loads the
// registered readonly collections, marking the database corrupted on a
// writable-load failure. It always completes loading, corrupted or not.
func (db *Database) Load() {
	ok := db.loadWritableCollections()
	if ok {
		db.registerBaseReadonlyCollections()
		if err := db.reloadReadonlyCollections(); err != nil {
			telemetry.Warn("readonly collection reload failed", "err", err)
		}
	} else {
		db.mu.Lock()
		db.isCorrupted = true
		db.mu.Unlock()
		telemetry.Error("writable collection load failed, database marked corrupted")
	}
	db.completeLoading()
}

func (db *Database) completeLoading() {
	db.mu.Lock()
	wasReady := db.isReady
	db.isReady = true
	db.mu.Unlock()
	if !wasReady && db.mediator != nil {
		db.mediator.Publish(&Message{Topic: TopicDbReady})
	}
}

// IsCorrupted reports whether a Load has failed to reload every writable
// collection since the flag was last cleared by Repair.
func (db *Database) IsCorrupted() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.isCorrupted
}

// Repair clears the corrupted flag; it does not re-attempt the load.
func (db *Database) Repair() {
	db.mu.Lock()
	db.isCorrupted = false
	db.mu.Unlock()
}

// IsReady reports whether the database has completed at least one Load.
func (db *Database) IsReady() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.isReady
}

func (db *Database) sendCollectionUpdated(name string) {
	if db.mediator == nil {
		return
	}
	db.mediator.Publish(&Message{Topic: TopicCollectionUpdated, Payload: Table{"collection": name}})
}

func (db *Database) bindScriptFunctions() {
	if db.registry != nil {
		db.registry.Register("DbExecuteQuery", func(args []Data) (Data, error) {
			if len(args) != 1 {
				return nil, newErr(ParseError, "DbExecuteQuery expects exactly one argument")
			}
			return db.ExecuteQuery(args[0])
		})
		db.registry.Register("DbRegisterReadonlyCollections", func(args []Data) (Data, error) {
			names := make([]string, 0, len(args))
			for _, a := range args {
				s, ok := a.(string)
				if !ok {
					return nil, newErr(ParseError, "DbRegisterReadonlyCollections expects string arguments")
				}
				names = append(names, s)
			}
			if err := db.RegisterReadonlyCollections(names); err != nil {
				return nil, err
			}
			return true, nil
		})
	}
	if db.mediator == nil {
		return
	}
	db.mediator.Subscribe(TopicHeartBeat, SubscriberFunc(func(*Message) {
		if !db.IsReady() {
			db.Load()
		}
	}))
	db.mediator.Subscribe(TopicSaveState, SubscriberFunc(func(*Message) {
		if err := db.SaveState(); err != nil {
			telemetry.Error("save state failed", "err", err)
		}
	}))
}

// ExecuteQuery parses and runs a single query, accepting a Table, a JSON
// query string, or raw JSON query bytes.
func (db *Database) ExecuteQuery(query any) (Data, error) {
	return db.executeQueryAt(query, 0)
}

// ExecuteQueryArray runs every query in order regardless of earlier
// failures, collecting one result per query (nil for a query that
// errored), and returns the OR of every query's error flag: nil only if
// every query in the array succeeded. Unlike ApplyDump, a failure part
// way through the array never stops the remaining queries from running.
func (db *Database) ExecuteQueryArray(queries []Data) ([]Data, error) {
	results := make([]Data, len(queries))
	var errs []error
	for i, q := range queries {
		r, err := db.ExecuteQuery(q)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results[i] = r
	}
	if len(errs) == 0 {
		return results, nil
	}
	return results, newErr(RuntimeError, "%d of %d queries in array failed: %v", len(errs), len(queries), errs[0])
}

// CreateDump builds an array of insert queries, one per {collectionName:
// renamedTo} pair in dump, each carrying that collection's current items
// as its insert value.
func (db *Database) CreateDump(dump Table) ([]Data, error) {
	out := make([]Data, 0, len(dump))
	for collName, renamedAny := range dump {
		renamed, ok := renamedAny.(string)
		if !ok {
			return nil, newErr(ParseError, "dump entry for %q must name a string", collName)
		}
		coll, ok := db.getCollection(collName)
		if !ok {
			return nil, newErr(ResolveError, "unknown collection %q", collName)
		}
		out = append(out, Table{
			"query":      "insert",
			"collection": renamed,
			"value":      itemsAsData(coll.Items()),
		})
	}
	return out, nil
}

// ApplyDump executes every query in dump in order, stopping at the first
// failure; earlier successes are not rolled back.
func (db *Database) ApplyDump(dump []Data) error {
	for _, q := range dump {
		if _, err := db.ExecuteQuery(q); err != nil {
			return err
		}
	}
	return nil
}

// Close persists any unsaved writable collection state.
func (db *Database) Close() error {
	return db.SaveState()
}

package tabdb

import (
	"encoding/json"
	"testing"
)

// memBlobStore is an in-memory BlobStore for tests that don't want to
// touch disk.
type memBlobStore struct {
	data map[string][]byte
}

func newMemBlobStore() *memBlobStore { return &memBlobStore{data: make(map[string][]byte)} }

func (m *memBlobStore) Read(key string) ([]byte, error) {
	b, ok := m.data[key]
	if !ok {
		return nil, newErr(PersistenceError, "no blob %q", key)
	}
	return b, nil
}
func (m *memBlobStore) Write(key string, data []byte) error { m.data[key] = data; return nil }
func (m *memBlobStore) Exists(key string) bool              { _, ok := m.data[key]; return ok }

func TestSaveStateAndReload(t *testing.T) {
	store := newMemBlobStore()
	db, err := Open(&Options{WritableCollections: []string{"widgets"}, BlobStore: store})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecuteQuery(Table{
		"query": "insert", "collection": "widgets",
		"value": Table{"_id": "1", "n": 1.0},
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveState(); err != nil {
		t.Fatal(err)
	}

	db2, err := Open(&Options{WritableCollections: []string{"widgets"}, BlobStore: store})
	if err != nil {
		t.Fatal(err)
	}
	coll, _ := db2.GetCollection("widgets")
	if coll.Count() != 1 {
		t.Fatalf("expected reloaded collection to have 1 item, got %d", coll.Count())
	}
	if db2.IsCorrupted() {
		t.Fatal("expected a clean reload not to mark the database corrupted")
	}
}

func TestLoadMarksCorruptedOnBadBlob(t *testing.T) {
	store := newMemBlobStore()
	store.data["widgets"] = []byte("not valid json")
	db, err := Open(&Options{WritableCollections: []string{"widgets"}, BlobStore: store})
	if err != nil {
		t.Fatal(err)
	}
	if !db.IsCorrupted() {
		t.Fatal("expected a malformed writable blob to mark the database corrupted")
	}
	db.Repair()
	if db.IsCorrupted() {
		t.Fatal("expected Repair to clear the corrupted flag")
	}
}

func TestReadyEventFiresOnce(t *testing.T) {
	store := newMemBlobStore()
	broker := NewBroker()
	var readyCount int
	broker.Subscribe(TopicDbReady, SubscriberFunc(func(*Message) { readyCount++ }))
	db, err := Open(&Options{WritableCollections: []string{"widgets"}, BlobStore: store, Mediator: broker})
	if err != nil {
		t.Fatal(err)
	}
	if readyCount != 1 {
		t.Fatalf("expected exactly 1 db-ready event from Open, got %d", readyCount)
	}
	db.Load()
	if readyCount != 1 {
		t.Fatalf("expected a second Load not to refire db-ready, got %d events", readyCount)
	}
}

func TestSaveStateTopicTriggersSave(t *testing.T) {
	store := newMemBlobStore()
	broker := NewBroker()
	db, err := Open(&Options{WritableCollections: []string{"widgets"}, BlobStore: store, Mediator: broker})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecuteQuery(Table{
		"query": "insert", "collection": "widgets", "value": Table{"_id": "1"},
	}); err != nil {
		t.Fatal(err)
	}
	broker.Publish(&Message{Topic: TopicSaveState})
	if !store.Exists("widgets") {
		t.Fatal("expected command.save_state to trigger SaveState")
	}
}

func TestScriptRegistryBindings(t *testing.T) {
	db, err := Open(&Options{WritableCollections: []string{"widgets"}})
	if err != nil {
		t.Fatal(err)
	}
	q := Table{"query": "insert", "collection": "widgets", "value": Table{"_id": "1"}}
	raw, _ := json.Marshal(map[string]Data(q))
	res, err := db.registry.Call("DbExecuteQuery", []Data{string(raw)})
	if err != nil {
		t.Fatal(err)
	}
	if res != int64(1) {
		t.Fatalf("expected DbExecuteQuery to return 1, got %v", res)
	}
}

func TestSystemCollectionExists(t *testing.T) {
	db, err := Open(&Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := db.GetCollection(systemCollectionName); !ok {
		t.Fatal("expected the system collection to be created at Open")
	}
}

func TestCreateTemporaryCollectionNaming(t *testing.T) {
	db, err := Open(&Options{})
	if err != nil {
		t.Fatal(err)
	}
	name, err := db.CreateTemporaryCollection([]Table{{"a": 1.0}})
	if err != nil {
		t.Fatal(err)
	}
	if len(name) != len("temp")+20 {
		t.Fatalf("expected temp<20 digits> naming, got %q", name)
	}
	coll, ok := db.GetCollection(name)
	if !ok || coll.Count() != 1 {
		t.Fatalf("expected temporary collection seeded with 1 item")
	}
}

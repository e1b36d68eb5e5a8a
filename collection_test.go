package tabdb

import "testing"

func TestCollectionInsertAssignsID(t *testing.T) {
	c := newCollection("widgets", false)
	if err := c.EnsureIndex(DefaultIndexName); err != nil {
		t.Fatal(err)
	}
	item := Table{"name": "bolt"}
	if err := c.InsertItem(item); err != nil {
		t.Fatal(err)
	}
	id, ok := GetID(item)
	if !ok || id == "" {
		t.Fatal("expected InsertItem to assign a non-empty _id")
	}
	if c.Count() != 1 {
		t.Fatalf("expected 1 item, got %d", c.Count())
	}
}

func TestCollectionInsertRejectsDuplicateID(t *testing.T) {
	c := newCollection("widgets", false)
	_ = c.EnsureIndex(DefaultIndexName)
	if err := c.InsertItem(Table{"_id": "a"}); err != nil {
		t.Fatal(err)
	}
	err := c.InsertItem(Table{"_id": "a"})
	if err == nil {
		t.Fatal("expected duplicate id to be rejected")
	}
}

func TestCollectionUpdateAndDelete(t *testing.T) {
	c := newCollection("widgets", false)
	_ = c.EnsureIndex(DefaultIndexName)
	_ = c.EnsureIndex("color")
	item := Table{"_id": "a", "color": "red"}
	if err := c.InsertItem(item); err != nil {
		t.Fatal(err)
	}
	if err := c.UpdateItem("a", Table{"color": "blue"}); err != nil {
		t.Fatal(err)
	}
	got, ok := c.FindByID("a")
	if !ok || (*got)["color"] != "blue" {
		t.Fatalf("expected color updated to blue, got %v", got)
	}
	idx, _ := c.Index("color")
	if len(idx.Find(mustKey(t, "red"))) != 0 {
		t.Fatal("expected old index entry removed after update")
	}
	if len(idx.Find(mustKey(t, "blue"))) != 1 {
		t.Fatal("expected new index entry present after update")
	}
	if err := c.DeleteItem("a"); err != nil {
		t.Fatal(err)
	}
	if c.Count() != 0 {
		t.Fatal("expected collection empty after delete")
	}
}

func TestCollectionReadonlyRejectsMutation(t *testing.T) {
	c := newCollection("ref", true)
	_ = c.EnsureIndex(DefaultIndexName)
	if err := c.InsertItem(Table{"a": 1.0}); err == nil {
		t.Fatal("expected insert into a readonly collection to fail")
	}
}

func TestCollectionAppendCollectionMerges(t *testing.T) {
	a := newCollection("ref", true)
	_ = a.EnsureIndex(DefaultIndexName)
	_ = a.seedItem(Table{"_id": "1"})

	b := newCollection("ref", true)
	_ = b.EnsureIndex(DefaultIndexName)
	_ = b.seedItem(Table{"_id": "2"})

	a.AppendCollection(b)
	if a.Count() != 2 {
		t.Fatalf("expected merged collection to have 2 items, got %d", a.Count())
	}
}

func TestCollectionSchemaValidation(t *testing.T) {
	c := newCollection("widgets", false)
	_ = c.EnsureIndex(DefaultIndexName)
	schema := Table{
		"type":     "object",
		"required": []Data{"name"},
		"properties": Table{
			"name": Table{"type": "string"},
		},
	}
	if err := c.SetSchema(schema); err != nil {
		t.Fatal(err)
	}
	if err := c.InsertItem(Table{"other": 1.0}); err == nil {
		t.Fatal("expected schema validation to reject a missing required field")
	}
	if err := c.InsertItem(Table{"name": "bolt"}); err != nil {
		t.Fatalf("expected a valid item to pass schema validation: %v", err)
	}
}

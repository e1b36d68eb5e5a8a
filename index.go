package tabdb

import "sort"

// indexEntry is one (key, document) slot in a CollectionIndex. seq records
// insertion order. Entries sharing a key stay in the order they were
// inserted because Insert places each new entry at the end of its key's
// run, matching the stability a B+Tree-style multimap gives the original
// implementation.
type indexEntry struct {
	key IndexKey
	doc *Table
	seq uint64
}

// CollectionIndex is an ordered multimap from IndexKey to *Table, supporting
// the four access patterns the query verbs need: exact-key lookup
// (like/exists_in), range lookup (min/max), full scan (no criteria), and
// maintenance (insert/erase on every mutation).
type CollectionIndex struct {
	field   string
	entries []indexEntry
	nextSeq uint64
}

func newCollectionIndex(field string) *CollectionIndex {
	return &CollectionIndex{field: field}
}

// Field is the document field this index projects.
func (idx *CollectionIndex) Field() string { return idx.field }

func (idx *CollectionIndex) lowerBoundPos(key IndexKey) int {
	return sort.Search(len(idx.entries), func(i int) bool {
		return Compare(idx.entries[i].key, key) >= 0
	})
}

func (idx *CollectionIndex) upperBoundPos(key IndexKey) int {
	return sort.Search(len(idx.entries), func(i int) bool {
		return Compare(idx.entries[i].key, key) > 0
	})
}

// Insert places doc at the end of its key's equality run, preserving
// insertion order among entries sharing a key.
func (idx *CollectionIndex) Insert(key IndexKey, doc *Table) {
	pos := idx.upperBoundPos(key)
	e := indexEntry{key: key, doc: doc, seq: idx.nextSeq}
	idx.nextSeq++
	idx.entries = append(idx.entries, indexEntry{})
	copy(idx.entries[pos+1:], idx.entries[pos:])
	idx.entries[pos] = e
}

// EraseByDoc removes the entry whose document pointer matches doc, if any.
func (idx *CollectionIndex) EraseByDoc(doc *Table) bool {
	for i, e := range idx.entries {
		if e.doc == doc {
			idx.entries = append(idx.entries[:i], idx.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Find returns every document whose key compares equal to key, in
// insertion order.
func (idx *CollectionIndex) Find(key IndexKey) []*Table {
	lo := idx.lowerBoundPos(key)
	hi := idx.upperBoundPos(key)
	out := make([]*Table, 0, hi-lo)
	for _, e := range idx.entries[lo:hi] {
		out = append(out, e.doc)
	}
	return out
}

// Range returns every document with a key in [lo, hi], in key then
// insertion order.
func (idx *CollectionIndex) Range(lo, hi IndexKey) []*Table {
	start := idx.lowerBoundPos(lo)
	end := idx.upperBoundPos(hi)
	if end < start {
		return nil
	}
	out := make([]*Table, 0, end-start)
	for _, e := range idx.entries[start:end] {
		out = append(out, e.doc)
	}
	return out
}

// Slice returns every document in key then insertion order.
func (idx *CollectionIndex) Slice() []*Table {
	out := make([]*Table, len(idx.entries))
	for i, e := range idx.entries {
		out[i] = e.doc
	}
	return out
}

// Len reports the number of indexed entries.
func (idx *CollectionIndex) Len() int { return len(idx.entries) }

func (idx *CollectionIndex) clear() {
	idx.entries = nil
}

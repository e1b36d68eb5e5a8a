package tabdb

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// ReadOnlyLoader is the file-manager collaborator: given a registered
// collection name, it returns the raw bytes of that collection's reference
// data, decoding a checksum if the file is the encoded variant.
type ReadOnlyLoader interface {
	Load(name string) ([]byte, error)
}

// FileLoader is the default ReadOnlyLoader: it prefers a checksummed
// "<name>.dat" file over a plain "<name>.json" one, matching the original's
// ReadCollectionData split between FA_ChecksumDecoded and FA_Null file
// access modes.
type FileLoader struct {
	dir string
}

// NewFileLoader constructs a FileLoader rooted at dir.
func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{dir: dir}
}

func (l *FileLoader) Load(name string) ([]byte, error) {
	datPath := filepath.Join(l.dir, name+".dat")
	if _, err := os.Stat(datPath); err == nil {
		return readChecksummed(datPath)
	}
	jsonPath := filepath.Join(l.dir, name+".json")
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, newErr(PersistenceError, "read readonly collection %q: %v", name, err)
	}
	return data, nil
}

// checksumHeaderSize is the 8-byte little-endian xxhash64 digest prefixed
// to every ".dat" file.
const checksumHeaderSize = 8

func readChecksummed(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, newErr(PersistenceError, "read checksummed file %q: %v", path, err)
	}
	if len(raw) < checksumHeaderSize {
		return nil, newErr(PersistenceError, "checksummed file %q truncated", path)
	}
	want := binary.LittleEndian.Uint64(raw[:checksumHeaderSize])
	payload := raw[checksumHeaderSize:]
	if got := xxhash.Sum64(payload); got != want {
		return nil, newErr(PersistenceError, "checksum mismatch in %q", path)
	}
	return payload, nil
}

// writeChecksummed is the encoding counterpart to readChecksummed, used by
// tooling that produces ".dat" reference files for tabdb to load.
func writeChecksummed(path string, payload []byte) error {
	sum := xxhash.Sum64(payload)
	buf := make([]byte, checksumHeaderSize+len(payload))
	binary.LittleEndian.PutUint64(buf[:checksumHeaderSize], sum)
	copy(buf[checksumHeaderSize:], payload)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return newErr(PersistenceError, "write checksummed file %q: %v", path, err)
	}
	return nil
}

// readonlyPayload is the on-disk shape of a reference collection file: its
// declared name and the items it seeds the collection with.
type readonlyPayload struct {
	Name  string  `json:"name"`
	Items []Table `json:"items"`
}

func decodeReadonlyPayload(data []byte) (string, []Table, error) {
	var wrapper readonlyPayload
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return "", nil, newErr(ParseError, "decode readonly collection: %v", err)
	}
	if wrapper.Name == "" {
		return "", nil, newErr(ParseError, "readonly collection file missing \"name\"")
	}
	return wrapper.Name, wrapper.Items, nil
}

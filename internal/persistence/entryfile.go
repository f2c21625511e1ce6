// Package persistence owns the on-disk layout: one directory per key, each
// holding a single pretty-printed data.json file.
package persistence

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// DataFile is the name of the file holding an entry inside its key directory.
const DataFile = "data.json"

// ErrMalformed is returned by ReadRecord when data.json lacks a value or a
// non-negative integer version.
var ErrMalformed = errors.New("malformed entry file")

// Record is the serialized form of an entry.
type Record struct {
	Value     json.RawMessage `json:"value"`
	Version   uint64          `json:"version"`
	Timestamp int64           `json:"timestamp"`
}

type rawRecord struct {
	Value     json.RawMessage `json:"value"`
	Version   json.Number     `json:"version"`
	Timestamp json.Number     `json:"timestamp"`
}

// KeyDir returns the directory holding key's data file.
func KeyDir(root, key string) string {
	return filepath.Join(root, key)
}

// Encode renders rec the way it is stored on disk.
func Encode(rec Record) ([]byte, error) {
	return json.MarshalIndent(rec, "", "  ")
}

// WriteRecord replaces dir/data.json with rec in one step: the bytes go to a
// temp file in the same directory which is synced and renamed over the target.
func WriteRecord(dir string, rec Record) error {
	data, err := Encode(rec)
	if err != nil {
		return errors.Wrap(err, "encode entry")
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "create temp file in %s", dir)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return errors.Wrapf(err, "write %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrapf(err, "sync %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmpName)
	}
	target := filepath.Join(dir, DataFile)
	if err := os.Rename(tmpName, target); err != nil {
		return errors.Wrapf(err, "rename %s to %s", tmpName, target)
	}
	success = true
	return nil
}

// ReadRecord loads dir/data.json. A missing file is reported with an error
// satisfying os.IsNotExist after errors.Cause. A missing timestamp reads as 0.
func ReadRecord(dir string) (Record, error) {
	path := filepath.Join(dir, DataFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, errors.Wrapf(err, "read %s", path)
	}

	var raw rawRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Record{}, errors.Wrapf(ErrMalformed, "%s: %v", path, err)
	}
	if raw.Value == nil {
		return Record{}, errors.Wrapf(ErrMalformed, "%s: missing value", path)
	}
	version, err := parseUint(raw.Version)
	if err != nil {
		return Record{}, errors.Wrapf(ErrMalformed, "%s: version %q", path, raw.Version)
	}
	ts, err := raw.Timestamp.Int64()
	if err != nil {
		ts = 0
	}
	return Record{Value: raw.Value, Version: version, Timestamp: ts}, nil
}

func parseUint(n json.Number) (uint64, error) {
	v, err := n.Int64()
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errors.Errorf("negative version %d", v)
	}
	return uint64(v), nil
}

// RemoveKey deletes key's directory and everything in it. Removing a
// directory that does not exist is not an error.
func RemoveKey(root, key string) error {
	dir := KeyDir(root, key)
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "remove %s", dir)
	}
	return nil
}

// Scan calls fn with the name of every subdirectory of root, in directory
// order. Plain files are skipped. The first error from fn stops the scan.
func Scan(root string, fn func(key string) error) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return errors.Wrapf(err, "read dir %s", root)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := fn(e.Name()); err != nil {
			return err
		}
	}
	return nil
}

package stats

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// Encode writes s as msgpack.
func Encode(w io.Writer, s Snapshot) error {
	if s.Schema == "" {
		s.Schema = SchemaVersion
	}
	return msgpack.NewEncoder(w).Encode(&s)
}

// Decode reads a msgpack snapshot and checks its schema.
func Decode(r io.Reader) (Snapshot, error) {
	var s Snapshot
	if err := msgpack.NewDecoder(r).Decode(&s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := CheckSchema(s.Schema); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// WriteFile encodes s into path through a temporary file and a rename, so
// readers never see a partial snapshot.
func WriteFile(path string, s Snapshot) (err error) {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			err = errors.Join(err, os.Remove(f.Name()))
		}
	}()
	if err := Encode(f, s); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// ReadFile decodes the snapshot stored at path.
func ReadFile(path string) (s Snapshot, err error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return Decode(f)
}

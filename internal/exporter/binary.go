package exporter

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"wrdspanel/internal/frame"
)

// snapshot is the on-disk layout of the binary cache.
type snapshot struct {
	Version int
	Columns []frame.Column
}

const snapshotVersion = 1

// WriteBinary serializes a frame with encoding/gob. This is the fast
// round-trip format read back on cache hits.
func WriteBinary(path string, f *frame.Frame) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	snap := snapshot{Version: snapshotVersion, Columns: make([]frame.Column, 0, f.Width())}
	for _, c := range f.Columns() {
		snap.Columns = append(snap.Columns, *c)
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	w := bufio.NewWriter(file)
	if err := gob.NewEncoder(w).Encode(&snap); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// ReadBinary loads a frame written by WriteBinary.
func ReadBinary(path string) (*frame.Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var snap snapshot
	if err := gob.NewDecoder(bufio.NewReader(file)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d in %s", snap.Version, path)
	}

	cols := make([]*frame.Column, len(snap.Columns))
	for i := range snap.Columns {
		c := snap.Columns[i]
		// gob drops empty slices; restore them so lengths line up.
		switch c.Kind {
		case frame.Float:
			if c.Floats == nil {
				c.Floats = []float64{}
			}
		case frame.String:
			if c.Strings == nil {
				c.Strings = []string{}
			}
		}
		cols[i] = &c
	}
	return frame.New(cols...)
}

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"wrdspanel/internal/config"
	"wrdspanel/internal/exporter"
	"wrdspanel/internal/frame"
)

// Key identifies the inputs that produced a cached stage output.
// Params must be JSON-encodable; map keys are encoded in sorted order.
type Key struct {
	Stage         string         `json:"stage"`
	SchemaVersion string         `json:"schema_version"`
	Params        map[string]any `json:"params"`
}

// Digest returns the SHA-256 of the canonical JSON encoding of the key.
func (k Key) Digest() (string, error) {
	data, err := json.Marshal(k)
	if err != nil {
		return "", fmt.Errorf("encode cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Entry is a cached output: <Dir>/<Name>.{gob,csv,dta} plus a manifest.
type Entry struct {
	Dir  string
	Name string
	Key  Key
}

// Path returns the file path for an extension such as ".gob".
func (e Entry) Path(ext string) string {
	return filepath.Join(e.Dir, e.Name+ext)
}

// ManifestPath returns the sidecar manifest location.
func (e Entry) ManifestPath() string {
	return e.Path(".manifest.json")
}

// Manifest is the JSON sidecar written after every successful save.
type Manifest struct {
	Stage         string         `json:"stage"`
	Digest        string         `json:"digest"`
	SchemaVersion string         `json:"schema_version"`
	Params        map[string]any `json:"params"`
	Rows          int            `json:"rows"`
	Columns       []string       `json:"columns"`
	Files         []string       `json:"files"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Store loads and saves stage outputs.
type Store struct {
	refresh bool
	logger  *slog.Logger
}

// NewStore creates a store. With refresh set every Load is a miss.
func NewStore(refresh bool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{refresh: refresh, logger: logger.With(slog.String("component", "cache"))}
}

// Refresh reports whether cache reads are disabled.
func (s *Store) Refresh() bool {
	return s.refresh
}

// Load returns the cached frame when the manifest matches the key and the
// binary copy exists. Only the binary file is read. Any mismatch or
// unreadable file is a miss, never an error.
func (s *Store) Load(e Entry) (*frame.Frame, bool) {
	log := s.logger.With(slog.String("entry", e.Name))

	if s.refresh {
		log.Info("refresh requested, ignoring cache")
		return nil, false
	}

	want, err := e.Key.Digest()
	if err != nil {
		log.Warn("cannot compute cache key", slog.String("error", err.Error()))
		return nil, false
	}

	m, err := ReadManifest(e.ManifestPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn("unreadable cache manifest", slog.String("error", err.Error()))
		}
		return nil, false
	}
	if m.Digest != want {
		log.Info("cache parameters changed, regenerating",
			slog.String("cached_digest", m.Digest),
			slog.String("wanted_digest", want))
		return nil, false
	}

	f, err := exporter.ReadBinary(e.Path(config.ExtBinary))
	if err != nil {
		log.Warn("cached binary unreadable, regenerating", slog.String("error", err.Error()))
		return nil, false
	}

	log.Info("loaded from cache",
		slog.Int("rows", f.Len()),
		slog.Int("columns", f.Width()),
		slog.Time("created_at", m.CreatedAt))
	return f, true
}

// Save writes the frame in binary, CSV and Stata form and then the manifest.
// A Stata failure is logged and does not fail the save.
func (s *Store) Save(e Entry, f *frame.Frame) (*Manifest, error) {
	digest, err := e.Key.Digest()
	if err != nil {
		return nil, err
	}
	// The files below are about to change; the old manifest must not
	// vouch for them.
	if err := s.Invalidate(e); err != nil {
		return nil, fmt.Errorf("invalidate %s: %w", e.Name, err)
	}

	written, err := exporter.WriteAll(f, exporter.Targets{
		Binary: e.Path(config.ExtBinary),
		CSV:    e.Path(config.ExtCSV),
		Stata:  e.Path(config.ExtStata),
		Label:  e.Name,
	}, s.logger)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Stage:         e.Key.Stage,
		Digest:        digest,
		SchemaVersion: e.Key.SchemaVersion,
		Params:        e.Key.Params,
		Rows:          f.Len(),
		Columns:       f.Names(),
		Files:         written.Files,
		CreatedAt:     time.Now().UTC(),
	}
	if err := WriteManifest(e.ManifestPath(), m); err != nil {
		return nil, err
	}
	return m, nil
}

// Invalidate removes the manifest so the next Load misses.
func (s *Store) Invalidate(e Entry) error {
	err := os.Remove(e.ManifestPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ReadManifest loads a manifest file.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// WriteManifest stores a manifest atomically.
func WriteManifest(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

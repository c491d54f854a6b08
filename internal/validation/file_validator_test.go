package validation

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *FileValidator {
	return NewFileValidator(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFileValidator_ValidatePanelFile(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "panel.csv")
	gobPath := filepath.Join(dir, "panel.GOB")
	require.NoError(t, os.WriteFile(csvPath, []byte("gvkey\n001000\n"), 0o644))
	require.NoError(t, os.WriteFile(gobPath, []byte{0}, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.csv"), 0o755))

	tests := []struct {
		name          string
		path          string
		wantFormat    string
		errorContains string
	}{
		{name: "csv", path: csvPath, wantFormat: FormatCSV},
		{name: "binary snapshot upper case extension", path: gobPath, wantFormat: FormatBinary},
		{name: "unsupported extension", path: filepath.Join(dir, "panel.dta"), errorContains: "unsupported input"},
		{name: "missing file", path: filepath.Join(dir, "absent.csv"), errorContains: "does not exist"},
		{name: "directory", path: filepath.Join(dir, "dir.csv"), errorContains: "is a directory"},
	}

	v := quiet()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format, err := v.ValidatePanelFile(tt.path)
			if tt.errorContains != "" {
				assert.ErrorContains(t, err, tt.errorContains)
				assert.Empty(t, format)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFormat, format)
		})
	}
}

func TestFileValidator_ValidateOutputPath(t *testing.T) {
	v := quiet()
	dir := t.TempDir()

	nested := filepath.Join(dir, "reports", "2024", "coverage.tex")
	require.NoError(t, v.ValidateOutputPath(nested))
	assert.DirExists(t, filepath.Dir(nested))

	entries, err := os.ReadDir(filepath.Dir(nested))
	require.NoError(t, err)
	assert.Empty(t, entries, "write check file is removed")

	assert.ErrorContains(t, v.ValidateOutputPath(dir), "is a directory")
}

func TestFileValidator_ValidateOutputDirectoryBlockedByFile(t *testing.T) {
	v := quiet()
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	err := v.ValidateOutputDirectory(filepath.Join(blocker, "sub"))
	assert.ErrorContains(t, err, "create output directory")
}

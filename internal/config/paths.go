package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths contains all the pipeline paths derived from the data directory.
//
//	data/
//	  ├── raw/
//	  │   ├── compustat/               (annual, quarterly, company info caches)
//	  │   ├── crsp/                    (quarterly CRSP cache)
//	  │   └── crsp-compustat-linking/  (crosswalk CSV)
//	  └── processed/
//	      ├── csv/    stata/    excel/
//	      ├── merged_chars_crsp_gvkeys.csv
//	      └── <output>.{csv,dta,gob}
type Paths struct {
	DataDir      string
	RawDir       string
	CompustatDir string
	CRSPDir      string
	LinkingDir   string
	ProcessedDir string
	CSVDir       string
	StataDir     string
	ExcelDir     string
	LogsDir      string

	// Well-known files
	LinkingFile   string
	GvkeyListFile string
	ManifestFile  string
}

// ResolvePaths derives the directory layout from the configuration.
func (c *Config) ResolvePaths() *Paths {
	dataDir := c.Paths.DataDir
	rawDir := filepath.Join(dataDir, "raw")
	processedDir := filepath.Join(dataDir, "processed")
	linkingDir := filepath.Join(rawDir, "crsp-compustat-linking")

	p := &Paths{
		DataDir:      dataDir,
		RawDir:       rawDir,
		CompustatDir: filepath.Join(rawDir, "compustat"),
		CRSPDir:      filepath.Join(rawDir, "crsp"),
		LinkingDir:   linkingDir,
		ProcessedDir: processedDir,
		CSVDir:       filepath.Join(processedDir, "csv"),
		StataDir:     filepath.Join(processedDir, "stata"),
		ExcelDir:     filepath.Join(processedDir, "excel"),
		LogsDir:      c.Paths.LogsDir,

		LinkingFile:   filepath.Join(linkingDir, "crsp-compustat-linking.csv"),
		GvkeyListFile: filepath.Join(processedDir, "merged_chars_crsp_gvkeys.csv"),
		ManifestFile:  filepath.Join(processedDir, "pipeline_manifest.json"),
	}
	if c.Paths.LinkingFile != "" {
		p.LinkingFile = c.Paths.LinkingFile
	}
	if c.Pipeline.GvkeyListFile != "" {
		p.GvkeyListFile = c.Pipeline.GvkeyListFile
	}
	return p
}

// EnsureDirectories creates every output directory if missing.
func (p *Paths) EnsureDirectories() error {
	dirs := []string{
		p.CompustatDir,
		p.CRSPDir,
		p.LinkingDir,
		p.ProcessedDir,
		p.CSVDir,
		p.StataDir,
		p.ExcelDir,
	}
	if p.LogsDir != "" {
		dirs = append(dirs, p.LogsDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FinalOutput returns the base path (without extension) of the final panel.
func (p *Paths) FinalOutput(name string) string {
	return filepath.Join(p.ProcessedDir, name)
}

// LogPathResolution logs all resolved paths for debugging
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	logger.Debug("resolved paths",
		slog.String("data_dir", p.DataDir),
		slog.String("compustat_dir", p.CompustatDir),
		slog.String("crsp_dir", p.CRSPDir),
		slog.String("processed_dir", p.ProcessedDir),
		slog.String("linking_file", p.LinkingFile),
		slog.String("gvkey_list_file", p.GvkeyListFile),
	)
}

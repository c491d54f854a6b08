package operations

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"wrdspanel/pkg/contracts/domain"
)

// StepRecord is the manifest entry of one step.
type StepRecord struct {
	StepID    string            `json:"step_id"`
	Status    domain.StepStatus `json:"status"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time"`
	Duration  string            `json:"duration,omitempty"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
}

// Manifest records what the last pipeline run did. It is written next to
// the final panel after every step so an interrupted run leaves a trace.
type Manifest struct {
	mu sync.RWMutex

	RunID       string           `json:"run_id"`
	Status      domain.RunStatus `json:"status"`
	Refresh     bool             `json:"refresh"`
	StartDate   string           `json:"start_date"`
	EndDate     string           `json:"end_date"`
	CreatedAt   time.Time        `json:"created_at"`
	LastUpdated time.Time        `json:"last_updated"`
	Steps       []StepRecord     `json:"steps"`
	Outputs     []string         `json:"outputs,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// NewManifest creates a manifest for a run over the given window.
func NewManifest(runID string, refresh bool, startDate, endDate string) *Manifest {
	now := time.Now()
	return &Manifest{
		RunID:       runID,
		Status:      domain.RunStatusRunning,
		Refresh:     refresh,
		StartDate:   startDate,
		EndDate:     endDate,
		CreatedAt:   now,
		LastUpdated: now,
		Steps:       []StepRecord{},
	}
}

// RecordStepStart appends a running entry for the step.
func (m *Manifest) RecordStepStart(stepID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Steps = append(m.Steps, StepRecord{
		StepID:    stepID,
		Status:    domain.StepStatusRunning,
		StartTime: time.Now(),
	})
	m.LastUpdated = time.Now()
}

// RecordStepEnd closes the latest entry of the step.
func (m *Manifest) RecordStepEnd(stepID string, status domain.StepStatus, err error, metadata map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.Steps) - 1; i >= 0; i-- {
		rec := &m.Steps[i]
		if rec.StepID != stepID {
			continue
		}
		rec.EndTime = time.Now()
		rec.Duration = rec.EndTime.Sub(rec.StartTime).String()
		rec.Status = status
		rec.Metadata = metadata
		if err != nil {
			rec.Error = err.Error()
		}
		break
	}
	m.LastUpdated = time.Now()
}

// Finish records the final run status and outputs.
func (m *Manifest) Finish(status domain.RunStatus, outputs []string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Status = status
	m.Outputs = append([]string(nil), outputs...)
	if err != nil {
		m.Error = err.Error()
	}
	m.LastUpdated = time.Now()
}

// StepStatus returns the recorded status of a step, or "" if absent.
func (m *Manifest) StepStatus(stepID string) domain.StepStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.Steps) - 1; i >= 0; i-- {
		if m.Steps[i].StepID == stepID {
			return m.Steps[i].Status
		}
	}
	return ""
}

// Save writes the manifest atomically.
func (m *Manifest) Save(path string) error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}

// LoadManifest reads a manifest written by Save.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return &m, nil
}

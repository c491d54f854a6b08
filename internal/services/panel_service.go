package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"golang.org/x/sync/singleflight"

	"wrdspanel/internal/config"
	"wrdspanel/internal/diagnostics"
	"wrdspanel/internal/exporter"
	"wrdspanel/internal/frame"
	"wrdspanel/internal/infrastructure"
	"wrdspanel/internal/panel"
	api "wrdspanel/pkg/contracts/api/v1"
	"wrdspanel/pkg/contracts/domain"
)

// PanelService serves checks over the saved final panel.
type PanelService struct {
	cfg    *config.Config
	logger *slog.Logger
	group  singleflight.Group
}

// NewPanelService creates a panel service.
func NewPanelService(cfg *config.Config, logger *slog.Logger) *PanelService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PanelService{
		cfg:    cfg,
		logger: infrastructure.WithComponent(logger, "panel_service"),
	}
}

// Path returns the location of the binary panel snapshot.
func (s *PanelService) Path() string {
	return panel.OutputTargets(s.cfg).Binary
}

// Exists reports whether the final panel has been written.
func (s *PanelService) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

type loaded struct {
	frame *frame.Frame
	info  domain.PanelInfo
}

func (s *PanelService) load() (*loaded, error) {
	path := s.Path()
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrPanelNotFound
		}
		return nil, err
	}

	f, err := exporter.ReadBinary(path)
	if err != nil {
		return nil, fmt.Errorf("read panel %s: %w", path, err)
	}
	info := domain.PanelInfo{
		Path:    path,
		Rows:    f.Len(),
		Columns: f.Width(),
	}
	if c := f.Column("gvkey"); c != nil {
		seen := make(map[string]bool)
		for i := 0; i < c.Len(); i++ {
			if !c.IsMissing(i) {
				seen[c.Format(i)] = true
			}
		}
		info.Firms = len(seen)
	}
	return &loaded{frame: f, info: info}, nil
}

// Info describes the saved panel.
func (s *PanelService) Info(ctx context.Context) (*domain.PanelInfo, error) {
	p, err := s.load()
	if err != nil {
		return nil, err
	}
	return &p.info, nil
}

// Diagnostics validates the saved panel. Concurrent identical requests
// share one computation.
func (s *PanelService) Diagnostics(ctx context.Context, q api.DiagnosticsQuery) (*diagnostics.Report, error) {
	threshold := s.cfg.Pipeline.CoverageThreshold
	if q.Threshold != nil {
		threshold = *q.Threshold
	}
	st, err := os.Stat(s.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrPanelNotFound
		}
		return nil, err
	}
	// The modification time keys out results of an older panel.
	key := fmt.Sprintf("%s|%s|%g|%d", q.UnitID, q.TimeID, threshold, st.ModTime().UnixNano())

	v, err, shared := s.group.Do(key, func() (any, error) {
		p, err := s.load()
		if err != nil {
			return nil, err
		}
		report, err := diagnostics.ValidatePanel(p.frame, q.UnitID, q.TimeID, diagnostics.Threshold(threshold))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return report, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "panel diagnostics served",
		slog.String("unit_id", q.UnitID),
		slog.String("time_id", q.TimeID),
		slog.Bool("shared", shared))
	return v.(*diagnostics.Report), nil
}

// Coverage returns the per-variable coverage of the saved panel.
func (s *PanelService) Coverage(ctx context.Context) (*domain.CoverageResponse, error) {
	p, err := s.load()
	if err != nil {
		return nil, err
	}
	rows := diagnostics.CoverageTable(p.frame)
	resp := &domain.CoverageResponse{
		Panel: p.info,
		Rows:  make([]domain.CoverageRow, len(rows)),
	}
	for i, r := range rows {
		resp.Rows[i] = domain.CoverageRow(r)
	}
	return resp, nil
}

// CoverageLaTeX renders the coverage table as LaTeX.
func CoverageLaTeX(resp *domain.CoverageResponse, caption string) string {
	if caption == "" {
		caption = "Variable Coverage"
	}
	rows := make([]diagnostics.CoverageRow, len(resp.Rows))
	for i, r := range resp.Rows {
		rows[i] = diagnostics.CoverageRow(r)
	}
	return diagnostics.FormatLaTeX(rows, caption)
}

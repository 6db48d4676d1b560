package dataset

import (
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"covidseir/internal/config"
	apperrors "covidseir/internal/errors"
)

// Country bundles everything known about one country. Series is nil when
// no time-series files are configured.
type Country struct {
	Profile Profile
	Pyramid *Pyramid
	Series  *Series
}

// Loader reads country inputs from the configured files. Parsed time-series
// tables are cached; concurrent first loads of the same file share one read.
// Returned values must be treated as read-only.
type Loader struct {
	cfg    config.DataConfig
	logger *slog.Logger

	mu     sync.RWMutex
	tables map[string]*Table
	group  singleflight.Group
}

// NewLoader creates a loader for the given data locations.
func NewLoader(cfg config.DataConfig, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "dataset_loader")),
		tables: make(map[string]*Table),
	}
}

// Load returns the profile, pyramid and series of a country.
func (l *Loader) Load(name string) (*Country, error) {
	profile, err := Lookup(name)
	if err != nil {
		return nil, err
	}

	pyramid, err := LoadPyramid(l.cfg.PopulationDir, profile)
	if err != nil {
		return nil, err
	}
	c := &Country{Profile: profile, Pyramid: pyramid}

	switch {
	case l.cfg.DeathsFile == "" && l.cfg.CasesFile == "":
		l.logger.Warn("no time series configured, running without calibration",
			slog.String("country", profile.Name))
		return c, nil
	case l.cfg.DeathsFile == "" || l.cfg.CasesFile == "":
		return nil, apperrors.NewConfigurationError("deaths_file and cases_file must be set together", nil)
	}

	deaths, err := l.table(l.cfg.DeathsFile)
	if err != nil {
		return nil, err
	}
	cases, err := l.table(l.cfg.CasesFile)
	if err != nil {
		return nil, err
	}
	c.Series, err = Combine(profile.Name, deaths, cases)
	if err != nil {
		return nil, err
	}

	l.logger.Debug("country loaded",
		slog.String("country", profile.Name),
		slog.Float64("population", pyramid.Total()),
		slog.Int("days", len(c.Series.Dates)))
	return c, nil
}

func (l *Loader) table(path string) (*Table, error) {
	l.mu.RLock()
	t, ok := l.tables[path]
	l.mu.RUnlock()
	if ok {
		return t, nil
	}

	v, err, _ := l.group.Do(path, func() (interface{}, error) {
		l.logger.Info("reading time series", slog.String("path", path))
		t, err := ReadJHUFile(path)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.tables[path] = t
		l.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Table), nil
}

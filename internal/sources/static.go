package sources

import (
	"context"
	"sync"

	"loan-catalog/internal/common/logger"
	"loan-catalog/internal/models"
	"loan-catalog/pkg/dataset"
)

// SchemeStore is the database side of the static dataset.
type SchemeStore interface {
	ActiveLoanSchemes(ctx context.Context) ([]map[string]interface{}, error)
}

// StaticSource serves the curated dataset. It loads once; a failed load
// leaves it empty instead of failing fetches.
type StaticSource struct {
	path   string
	store  SchemeStore
	logger logger.Logger

	once    sync.Once
	records []models.RawRecord
	version string
	loadErr error
}

// NewStaticSource reads from store when set, else from path, else from the
// embedded dataset.
func NewStaticSource(path string, store SchemeStore, log logger.Logger) *StaticSource {
	return &StaticSource{
		path:   path,
		store:  store,
		logger: log.WithFields(map[string]interface{}{"source": models.SourceStatic}),
	}
}

func (s *StaticSource) Name() string { return models.SourceStatic }

// Load performs the one-time load. Later calls return the first result.
func (s *StaticSource) Load(ctx context.Context) error {
	s.once.Do(func() {
		s.records, s.version, s.loadErr = s.load(ctx)
		if s.loadErr != nil {
			s.logger.Error("static dataset load failed, serving empty set", map[string]interface{}{
				"error": s.loadErr.Error(),
			})
			s.records = nil
			return
		}
		s.logger.Info("static dataset loaded", map[string]interface{}{
			"records": len(s.records),
			"version": s.version,
		})
	})
	return s.loadErr
}

func (s *StaticSource) load(ctx context.Context) ([]models.RawRecord, string, error) {
	if s.store != nil {
		schemes, err := s.store.ActiveLoanSchemes(ctx)
		if err != nil {
			return nil, "", err
		}
		return mapsToRaw(schemes), "postgres", nil
	}

	var ds *dataset.Dataset
	var err error
	if s.path != "" {
		ds, err = dataset.Load(s.path)
	} else {
		ds, err = dataset.Default()
	}
	if err != nil {
		return nil, "", err
	}
	return mapsToRaw(ds.Schemes), ds.Version, nil
}

// Fetch returns the loaded dataset. Params do not narrow the static set.
func (s *StaticSource) Fetch(ctx context.Context, _ Params) ([]models.RawRecord, error) {
	_ = s.Load(ctx)
	out := make([]models.RawRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *StaticSource) Describe() map[string]interface{} {
	_ = s.Load(context.Background())
	origin := "embedded"
	switch {
	case s.store != nil:
		origin = "postgres"
	case s.path != "":
		origin = s.path
	}
	desc := map[string]interface{}{
		"origin":  origin,
		"records": len(s.records),
		"version": s.version,
	}
	if s.loadErr != nil {
		desc["loadError"] = s.loadErr.Error()
	}
	return desc
}

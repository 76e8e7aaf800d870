package database

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"

	"github.com/wikiguard/pii-scan-backend/internal/domain/errors"
	"github.com/wikiguard/pii-scan-backend/internal/domain/pii"
)

// ConfigStore keeps the singleton detection configuration and the per-type
// tuning table. The detection_config table holds exactly one row.
type ConfigStore struct {
	db querier
}

// NewConfigStore creates the detection config store.
func NewConfigStore(db querier) *ConfigStore {
	return &ConfigStore{db: db}
}

// GetDetectionConfig loads the singleton row; missing row falls back to the
// seeded defaults.
func (s *ConfigStore) GetDetectionConfig(ctx context.Context) (*pii.DetectionConfig, error) {
	var cfg pii.DetectionConfig
	err := s.db.QueryRow(ctx, `
		SELECT gliner_enabled, presidio_enabled, regex_enabled,
		       default_threshold, labels_per_batch
		FROM detection_config
		WHERE id = 1`).
		Scan(&cfg.GlinerEnabled, &cfg.PresidioEnabled, &cfg.RegexEnabled,
			&cfg.DefaultThreshold, &cfg.LabelsPerBatch)
	if err == pgx.ErrNoRows {
		return &pii.DetectionConfig{
			GlinerEnabled:    true,
			DefaultThreshold: 0.5,
			LabelsPerBatch:   10,
		}, nil
	}
	if err != nil {
		return nil, errors.NewPersistenceError("failed to load detection config").WithCause(err)
	}
	return &cfg, nil
}

// UpdateDetectionConfig replaces the singleton row after validation.
func (s *ConfigStore) UpdateDetectionConfig(ctx context.Context, cfg *pii.DetectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO detection_config (
			id, gliner_enabled, presidio_enabled, regex_enabled,
			default_threshold, labels_per_batch, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			gliner_enabled    = EXCLUDED.gliner_enabled,
			presidio_enabled  = EXCLUDED.presidio_enabled,
			regex_enabled     = EXCLUDED.regex_enabled,
			default_threshold = EXCLUDED.default_threshold,
			labels_per_batch  = EXCLUDED.labels_per_batch,
			updated_at        = NOW()`

	if _, err := s.db.Exec(ctx, query,
		cfg.GlinerEnabled, cfg.PresidioEnabled, cfg.RegexEnabled,
		cfg.DefaultThreshold, cfg.LabelsPerBatch); err != nil {
		return errors.NewPersistenceError("failed to update detection config").WithCause(err)
	}
	return nil
}

const typeConfigColumns = `
	detector, pii_type, enabled, threshold, category,
	country_code, display_name, detector_label`

// ListTypeConfigs returns the full tuning table ordered by detector and type.
func (s *ConfigStore) ListTypeConfigs(ctx context.Context) ([]*pii.PiiTypeConfig, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+typeConfigColumns+`
		FROM pii_type_configs
		ORDER BY detector ASC, pii_type ASC`)
	if err != nil {
		return nil, errors.NewPersistenceError("failed to list type configs").WithCause(err)
	}
	defer rows.Close()

	var configs []*pii.PiiTypeConfig
	for rows.Next() {
		cfg, err := scanTypeConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistenceError("type config iteration failed").WithCause(err)
	}
	return configs, nil
}

// GetTypeConfig returns the tuning row for one (detector, type) pair.
func (s *ConfigStore) GetTypeConfig(ctx context.Context, detector pii.Detector, piiType string) (*pii.PiiTypeConfig, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+typeConfigColumns+`
		FROM pii_type_configs
		WHERE detector = $1 AND pii_type = $2`, string(detector), piiType)

	cfg, err := scanTypeConfig(row)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// UpsertTypeConfig inserts or replaces one tuning row after validation.
func (s *ConfigStore) UpsertTypeConfig(ctx context.Context, cfg *pii.PiiTypeConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO pii_type_configs (
			detector, pii_type, enabled, threshold, category,
			country_code, display_name, detector_label, updated_at
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, NOW())
		ON CONFLICT (detector, pii_type) DO UPDATE SET
			enabled        = EXCLUDED.enabled,
			threshold      = EXCLUDED.threshold,
			category       = EXCLUDED.category,
			country_code   = EXCLUDED.country_code,
			display_name   = EXCLUDED.display_name,
			detector_label = EXCLUDED.detector_label,
			updated_at     = NOW()`

	if _, err := s.db.Exec(ctx, query,
		string(cfg.Detector), cfg.PiiType, cfg.Enabled, cfg.Threshold,
		cfg.Category, cfg.CountryCode, cfg.DisplayName, cfg.DetectorLabel); err != nil {
		return errors.NewPersistenceError("failed to upsert type config").WithCause(err)
	}
	return nil
}

func scanTypeConfig(row pgx.Row) (*pii.PiiTypeConfig, error) {
	var (
		cfg         pii.PiiTypeConfig
		detector    string
		countryCode sql.NullString
	)
	err := row.Scan(&detector, &cfg.PiiType, &cfg.Enabled, &cfg.Threshold,
		&cfg.Category, &countryCode, &cfg.DisplayName, &cfg.DetectorLabel)
	if err == pgx.ErrNoRows {
		return nil, errors.NewNotFoundError("pii type config")
	}
	if err != nil {
		return nil, errors.NewPersistenceError("failed to scan type config row").WithCause(err)
	}
	cfg.Detector = pii.Detector(detector)
	cfg.CountryCode = countryCode.String
	return &cfg, nil
}

var _ pii.ConfigRepository = (*ConfigStore)(nil)

package repository

import (
	"database/sql"
	"strings"

	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
)

// PriorityRepository stores per-preset field priority lists and the set of
// disabled providers.
type PriorityRepository struct {
	db       *sql.DB
	settings *SettingsRepository
}

func NewPriorityRepository(db *sql.DB, settings *SettingsRepository) *PriorityRepository {
	return &PriorityRepository{db: db, settings: settings}
}

// ActivePreset returns the active preset name; "balanced" when unset.
func (r *PriorityRepository) ActivePreset() (string, error) {
	v, err := r.settings.Get("active_priority_preset")
	if err != nil {
		return "", err
	}
	if v == "" {
		v = "balanced"
	}
	return v, nil
}

// DisabledProviders returns the set of provider names the user switched off.
func (r *PriorityRepository) DisabledProviders() (map[string]bool, error) {
	v, err := r.settings.Get("disabled_providers")
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, name := range strings.Split(v, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out[name] = true
		}
	}
	return out, nil
}

func (r *PriorityRepository) Get(preset, category, field string) (*models.FieldPriority, error) {
	var providers []byte
	fp := &models.FieldPriority{Preset: preset, Category: category, Field: field}
	err := r.db.QueryRow(`SELECT providers FROM field_priorities
		WHERE preset = $1 AND category = $2 AND field = $3`, preset, category, field).Scan(&providers)
	if err == sql.ErrNoRows {
		return nil, errkind.New(errkind.KindNotFound, "no priority entry")
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "get field priority", err)
	}
	if err := json.Unmarshal(providers, &fp.Providers); err != nil {
		return nil, errkind.Wrap(errkind.KindSchemaMismatch, "decode providers", err)
	}
	return fp, nil
}

// Set stores a custom entry and switches the active preset to custom.
// Manual edits always land in the custom preset.
func (r *PriorityRepository) Set(category, field string, providers []string) error {
	provJSON, _ := json.Marshal(providers)
	if _, err := r.db.Exec(`INSERT INTO field_priorities (preset, category, field, providers)
		VALUES ('custom', $1, $2, $3)
		ON CONFLICT (preset, category, field) DO UPDATE SET providers = $3`,
		category, field, provJSON); err != nil {
		return errkind.Wrap(errkind.KindQueryFailed, "set field priority", err)
	}
	return r.settings.Set("active_priority_preset", "custom")
}

func (r *PriorityRepository) List(preset string) ([]*models.FieldPriority, error) {
	rows, err := r.db.Query(`SELECT preset, category, field, providers FROM field_priorities
		WHERE preset = $1 ORDER BY category, field`, preset)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "list field priorities", err)
	}
	defer rows.Close()
	var out []*models.FieldPriority
	for rows.Next() {
		fp := &models.FieldPriority{}
		var providers []byte
		if err := rows.Scan(&fp.Preset, &fp.Category, &fp.Field, &providers); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(providers, &fp.Providers); err != nil {
			return nil, errkind.Wrap(errkind.KindSchemaMismatch, "decode providers", err)
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}

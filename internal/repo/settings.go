package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/avtoraskroy/cam-pipeline/internal/model"
)

// SettingsFor returns the stored tenant patch. A tenant without a row
// gets an empty patch, never an error.
func (r *Repo) SettingsFor(ctx context.Context, tenantID string) (model.SettingsPatch, error) {
	if tenantID == "" {
		tenantID = model.DefaultTenant
	}
	var row model.FactorySettings
	err := r.db.NewSelect().Model(&row).Where("fs.tenant_id = ?", tenantID).Scan(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return model.SettingsPatch{}, nil
	case err != nil:
		return model.SettingsPatch{}, model.WrapErr(model.FailureTransient, err, "load factory settings")
	}
	return row.Patch, nil
}

// SaveSettings upserts the tenant patch.
func (r *Repo) SaveSettings(ctx context.Context, tenantID string, patch model.SettingsPatch) error {
	if tenantID == "" {
		tenantID = model.DefaultTenant
	}
	row := model.FactorySettings{
		TenantID:  tenantID,
		Patch:     patch,
		UpdatedAt: time.Now().UTC(),
	}
	_, err := r.db.NewInsert().Model(&row).
		On("CONFLICT (tenant_id) DO UPDATE").
		Set("patch = EXCLUDED.patch").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return model.WrapErr(model.FailureTransient, err, "save factory settings")
	}
	return nil
}

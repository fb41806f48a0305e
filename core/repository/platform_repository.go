package repository

import (
	"database/sql"
	"encoding/json"

	"github.com/cloudplay/fleet-control-plane/core/models"
)

// PlatformRepository handles persistence for PlatformProfile records (§3).
type PlatformRepository struct {
	db *DB
}

func NewPlatformRepository(db *DB) *PlatformRepository {
	return &PlatformRepository{db: db}
}

// Upsert creates or replaces a PlatformProfile, backing PUT /platforms/{platform}.
func (r *PlatformRepository) Upsert(p *models.PlatformProfile) error {
	prefsJSON, err := json.Marshal(p.ProviderPreferences)
	if err != nil {
		return err
	}
	defaultsJSON, err := json.Marshal(p.ManifestDefaults)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO platform_profiles (
			platform, min_vcpu, min_memory_gib, min_gpu_count, requires_gpu,
			max_session_hours, provider_preferences, default_tier,
			platform_family, manifest_defaults
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (platform) DO UPDATE SET
			min_vcpu = EXCLUDED.min_vcpu,
			min_memory_gib = EXCLUDED.min_memory_gib,
			min_gpu_count = EXCLUDED.min_gpu_count,
			requires_gpu = EXCLUDED.requires_gpu,
			max_session_hours = EXCLUDED.max_session_hours,
			provider_preferences = EXCLUDED.provider_preferences,
			default_tier = EXCLUDED.default_tier,
			platform_family = EXCLUDED.platform_family,
			manifest_defaults = EXCLUDED.manifest_defaults
	`
	_, err = r.db.Exec(query,
		p.Platform, p.MinVCPU, p.MinMemoryGiB, p.MinGPUCount, p.RequiresGPU,
		p.MaxSessionHours, prefsJSON, p.DefaultTier, p.PlatformFamily, defaultsJSON,
	)
	return err
}

// Get retrieves a PlatformProfile, or (nil, sql.ErrNoRows) if unknown.
func (r *PlatformRepository) Get(platform string) (*models.PlatformProfile, error) {
	query := `
		SELECT platform, min_vcpu, min_memory_gib, min_gpu_count, requires_gpu,
			max_session_hours, provider_preferences, default_tier,
			platform_family, manifest_defaults
		FROM platform_profiles WHERE platform = $1
	`
	var p models.PlatformProfile
	var prefsJSON, defaultsJSON []byte
	err := r.db.QueryRow(query, platform).Scan(
		&p.Platform, &p.MinVCPU, &p.MinMemoryGiB, &p.MinGPUCount, &p.RequiresGPU,
		&p.MaxSessionHours, &prefsJSON, &p.DefaultTier, &p.PlatformFamily, &defaultsJSON,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(prefsJSON, &p.ProviderPreferences); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(defaultsJSON, &p.ManifestDefaults); err != nil {
		return nil, err
	}
	return &p, nil
}

// List returns every known PlatformProfile.
func (r *PlatformRepository) List() ([]*models.PlatformProfile, error) {
	rows, err := r.db.Query(`
		SELECT platform, min_vcpu, min_memory_gib, min_gpu_count, requires_gpu,
			max_session_hours, provider_preferences, default_tier,
			platform_family, manifest_defaults
		FROM platform_profiles ORDER BY platform
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*models.PlatformProfile
	for rows.Next() {
		var p models.PlatformProfile
		var prefsJSON, defaultsJSON []byte
		if err := rows.Scan(
			&p.Platform, &p.MinVCPU, &p.MinMemoryGiB, &p.MinGPUCount, &p.RequiresGPU,
			&p.MaxSessionHours, &prefsJSON, &p.DefaultTier, &p.PlatformFamily, &defaultsJSON,
		); err != nil {
			continue
		}
		_ = json.Unmarshal(prefsJSON, &p.ProviderPreferences)
		_ = json.Unmarshal(defaultsJSON, &p.ManifestDefaults)
		profiles = append(profiles, &p)
	}
	return profiles, nil
}

// IsNotFound reports whether err is the "no such platform" sentinel from Get.
func IsNotFound(err error) bool {
	return err == sql.ErrNoRows
}

// PlatformFamily implements billing.PlatformFamilyLookup by consulting the
// persisted PlatformProfile.
func (r *PlatformRepository) PlatformFamily(platform string) (family string, maxSessionHours float64, ok bool) {
	p, err := r.Get(platform)
	if err != nil {
		return "", 0, false
	}
	return p.PlatformFamily, p.MaxSessionHours, true
}

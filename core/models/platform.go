package models

// ProviderPreference is one entry in a PlatformProfile's ordered provider list.
type ProviderPreference struct {
	Provider       Provider `json:"provider" yaml:"provider"`
	Priority       int      `json:"priority" yaml:"priority"`
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	TierOverride   *Tier    `json:"tier_override,omitempty" yaml:"tier_override,omitempty"`
	HourlyCostCap  *float64 `json:"hourly_cost_cap,omitempty" yaml:"hourly_cost_cap,omitempty"`
}

// PlatformProfile describes how a given platform should be hosted.
type PlatformProfile struct {
	Platform string `json:"platform" yaml:"platform"`

	MinVCPU      int  `json:"min_vcpu" yaml:"min_vcpu"`
	MinMemoryGiB int  `json:"min_memory_gib" yaml:"min_memory_gib"`
	MinGPUCount  int  `json:"min_gpu_count" yaml:"min_gpu_count"`
	RequiresGPU  bool `json:"requires_gpu" yaml:"requires_gpu"`

	MaxSessionHours float64 `json:"max_session_hours" yaml:"max_session_hours"`

	ProviderPreferences []ProviderPreference `json:"provider_preferences" yaml:"provider_preferences"`

	DefaultTier Tier `json:"default_tier" yaml:"default_tier"`

	// PlatformFamily groups related platforms for rate-table and billing
	// multiplier lookups (e.g. several platform tags sharing one family).
	PlatformFamily string `json:"platform_family" yaml:"platform_family"`

	// ManifestDefaults are opaque passthroughs handed to session manifests
	// built for this platform (app image, codec, resolution, fps, etc).
	ManifestDefaults ManifestDefaults `json:"manifest_defaults" yaml:"manifest_defaults"`
}

// ManifestDefaults carries the platform-side defaults §6.3 leaves opaque to the core.
type ManifestDefaults struct {
	AppImage    string                 `json:"app_image" yaml:"app_image"`
	FirmwareRef string                 `json:"firmware_ref,omitempty" yaml:"firmware_ref,omitempty"`
	AppConfig   map[string]interface{} `json:"app_config,omitempty" yaml:"app_config,omitempty"`
	Resolution  string                 `json:"resolution" yaml:"resolution"`
	FPS         int                    `json:"fps" yaml:"fps"`
	Codec       string                 `json:"codec" yaml:"codec"`
	DualScreen  *DualScreen            `json:"dual_screen,omitempty" yaml:"dual_screen,omitempty"`
}

// DualScreen describes a two-display layout for platforms that need it.
type DualScreen struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Top     Rect `json:"top" yaml:"top"`
	Bottom  Rect `json:"bottom" yaml:"bottom"`
}

// Rect is a pixel rectangle within a composited frame.
type Rect struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	W int `json:"w" yaml:"w"`
	H int `json:"h" yaml:"h"`
}

// Validate enforces the §3 PlatformProfile invariants.
func (p *PlatformProfile) Validate() error {
	if len(p.ProviderPreferences) == 0 {
		return simpleErr("platform profile must carry at least one provider preference")
	}
	seenPriority := make(map[int]bool, len(p.ProviderPreferences))
	anyEnabled := false
	for _, pref := range p.ProviderPreferences {
		if seenPriority[pref.Priority] {
			return simpleErr("provider preference priorities must be unique within a profile")
		}
		seenPriority[pref.Priority] = true
		if pref.Enabled {
			anyEnabled = true
		}
	}
	if !anyEnabled {
		return simpleErr("platform profile must have at least one enabled provider preference")
	}
	return nil
}

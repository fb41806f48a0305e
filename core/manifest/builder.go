// Package manifest assembles the §6.3 SessionManifest from a
// PlatformProfile's defaults plus per-session overrides. Grounded on the
// teacher's training/frameworks per-framework dispatch idiom (a Builder
// interface, one implementation per family, selected by a string tag) —
// here the tag is platform family rather than training framework, and the
// output is a streaming-session manifest rather than a training script.
package manifest

import (
	"crypto/tls"
	"encoding/pem"
	"fmt"

	"github.com/cloudplay/fleet-control-plane/core/models"
)

// SessionInputs are the per-session overrides supplied by request_session
// and subsequent operator actions.
type SessionInputs struct {
	SessionID  string
	HostID     string
	UserID     string
	ROMRef     string
	SaveRef    string
	SaveFile   string
	FirmwareRef string
	FakeTime   string
	ClientCert *tls.Certificate
}

// Builder assembles a SessionManifest for one platform family. Families with
// no special handling use DefaultBuilder; a family needing bespoke
// app_config shaping gets its own implementation, mirroring the teacher's
// one-struct-per-framework layout.
type Builder interface {
	Build(profile *models.PlatformProfile, in SessionInputs) (models.SessionManifest, error)
}

// registry maps a platform family to its Builder, analogous to the
// teacher's framework-name dispatch in training/frameworks.
var registry = map[string]Builder{}

// Register installs a Builder for a platform family. Call during package init
// from family-specific builder files.
func Register(family string, b Builder) {
	registry[family] = b
}

func init() {
	Register("default", DefaultBuilder{})
}

// BuildFor resolves the registered Builder for profile.PlatformFamily,
// falling back to DefaultBuilder when no bespoke implementation exists.
func BuildFor(profile *models.PlatformProfile, in SessionInputs) (models.SessionManifest, error) {
	b, ok := registry[profile.PlatformFamily]
	if !ok {
		b = registry["default"]
	}
	return b.Build(profile, in)
}

// DefaultBuilder assembles a manifest straight from PlatformProfile defaults
// with session inputs layered on top; sufficient for platform families that
// need no bespoke app_config shaping.
type DefaultBuilder struct{}

func (DefaultBuilder) Build(profile *models.PlatformProfile, in SessionInputs) (models.SessionManifest, error) {
	m := models.SessionManifest{
		SessionID:   in.SessionID,
		HostID:      in.HostID,
		UserID:      in.UserID,
		Platform:    profile.Platform,
		AppImage:    profile.ManifestDefaults.AppImage,
		Resolution:  profile.ManifestDefaults.Resolution,
		FPS:         profile.ManifestDefaults.FPS,
		Codec:       profile.ManifestDefaults.Codec,
		DualScreen:  profile.ManifestDefaults.DualScreen,
		AppConfig:   cloneConfig(profile.ManifestDefaults.AppConfig),
	}

	m.ROMRef = optionalString(in.ROMRef)
	m.SaveRef = optionalString(in.SaveRef)
	m.SaveFilename = optionalString(in.SaveFile)
	m.FirmwareRef = optionalString(firstNonEmpty(in.FirmwareRef, profile.ManifestDefaults.FirmwareRef))
	m.FakeTime = optionalString(in.FakeTime)

	if in.ClientCert != nil && len(in.ClientCert.Certificate) > 0 {
		m.ClientCert = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: in.ClientCert.Certificate[0]}))
	}

	return m, nil
}

func cloneConfig(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return map[string]interface{}{}
	}
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// ValidateResolution does a light sanity check on the "WxH" resolution tag
// a PlatformProfile supplies, mirroring the teacher's small validation
// helpers in training/frameworks/common.go.
func ValidateResolution(res string) error {
	var w, h int
	if _, err := fmt.Sscanf(res, "%dx%d", &w, &h); err != nil || w <= 0 || h <= 0 {
		return fmt.Errorf("invalid resolution %q, expected WxH", res)
	}
	return nil
}

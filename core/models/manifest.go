package models

// SessionManifest is the immutable per-session payload an on-host agent
// retrieves to know what to run. Field shape is fixed by §6.3; the core
// treats AppImage, AppConfig, ROMRef, SaveRef and FirmwareRef as opaque
// passthroughs from PlatformProfile plus session inputs.
type SessionManifest struct {
	SessionID    string                 `json:"session_id"`
	HostID       string                 `json:"host_id"`
	UserID       string                 `json:"user_id"`
	Platform     string                 `json:"platform"`
	AppImage     string                 `json:"app_image"`
	ROMRef       *string                `json:"rom_ref"`
	SaveRef      *string                `json:"save_ref"`
	SaveFilename *string                `json:"save_filename"`
	FirmwareRef  *string                `json:"firmware_ref"`
	FakeTime     *string                `json:"fake_time"`
	AppConfig    map[string]interface{} `json:"app_config"`
	Resolution   string                 `json:"resolution"`
	FPS          int                    `json:"fps"`
	Codec        string                 `json:"codec"`
	ClientCert   string                 `json:"client_cert"`
	DualScreen   *DualScreen            `json:"dual_screen"`
}

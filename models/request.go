package models

// ScanRequest is the payload for POST /api/v1/scan and the input of a
// one-shot CLI scan. Zero values fall back to the server configuration.
type ScanRequest struct {
	// URL, when set, is navigated to in the selected tab before harvesting.
	// Navigation failure is a warning: the scan proceeds on whatever page
	// is loaded.
	URL string `json:"url,omitempty" binding:"omitempty,url"`

	// TitleMarkers overrides the configured tab title markers.
	TitleMarkers []string `json:"title_markers,omitempty"`

	// Mode selects the acquisition strategy: "fetch" or "screenshot".
	Mode string `json:"mode,omitempty" binding:"omitempty,oneof=fetch screenshot"`

	// MaxImages overrides the result bound.
	MaxImages int `json:"max_images,omitempty" binding:"omitempty,min=1,max=50"`

	// Timeout is the maximum duration in seconds for the whole scan.
	Timeout int `json:"timeout,omitempty" binding:"omitempty,min=1,max=900"`

	// SkipAnalysis returns the harvest summary without calling the
	// extraction capability.
	SkipAnalysis bool `json:"skip_analysis,omitempty"`

	// MaxAge allows serving a cached analysis of an identical harvest
	// younger than this many milliseconds. 0 disables the cache lookup.
	MaxAge int `json:"max_age_ms,omitempty" binding:"omitempty,min=0"`

	// WebhookURL receives a signed scan.completed event when set.
	WebhookURL string `json:"webhook_url,omitempty" binding:"omitempty,url"`

	// WebhookSecret signs the webhook body (HMAC-SHA256).
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

package models

// ScanResponse is the response for POST /api/v1/scan.
type ScanResponse struct {
	// Success indicates whether harvesting completed. An extraction failure
	// does not clear it; see AnalysisError.
	Success bool `json:"success"`

	// RunID identifies the scan in logs and webhook events.
	RunID string `json:"run_id"`

	// Report is the extraction capability's text, passed through verbatim.
	Report string `json:"report"`

	// AnalysisError is set when the extraction capability failed.
	AnalysisError *ErrorDetail `json:"analysis_error,omitempty"`

	// Page describes the tab that was harvested.
	Page PageInfo `json:"page"`

	// Harvest summarises the harvesting pipeline.
	Harvest HarvestSummary `json:"harvest"`

	// Notice is the product information table rendered as Markdown.
	Notice string `json:"notice,omitempty"`

	// LLMUsage reports the token consumption of the analysis call.
	LLMUsage *LLMUsage `json:"llm_usage,omitempty"`

	// Timing provides duration breakdowns for the scan.
	Timing TimingInfo `json:"timing"`

	// CacheStatus is "hit", "miss", or empty when caching was not requested.
	CacheStatus string `json:"cache_status,omitempty"`

	// Warnings lists non-fatal problems (e.g. failed navigation).
	Warnings []string `json:"warnings,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// PageInfo identifies the harvested tab.
type PageInfo struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// HarvestSummary reports what each pipeline stage did.
type HarvestSummary struct {
	ScrollSteps     int    `json:"scroll_steps"`
	PageHeight      int    `json:"page_height"`
	ScrollConverged bool   `json:"scroll_converged"`
	ScrollStop      string `json:"scroll_stop"`

	// StopQuery is the index of the last selector query evaluated.
	StopQuery   int           `json:"stop_query"`
	QueryCounts []int         `json:"query_counts"`
	Candidates  int           `json:"candidates"`
	Acquired    int           `json:"acquired"`
	Duplicates  int           `json:"duplicates"`
	Strategy    string        `json:"strategy"`
	Images      []ImageInfo   `json:"images"`
	Failures    []FailureInfo `json:"failures,omitempty"`
}

// ImageInfo describes one image handed to the extraction capability.
type ImageInfo struct {
	Index    int    `json:"index"`
	Source   string `json:"source,omitempty"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	MIMEType string `json:"mime_type"`
	Hash     string `json:"hash"`
}

// FailureInfo records a candidate that could not be acquired.
type FailureInfo struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// LLMUsage reports token consumption from the analysis call.
type LLMUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`

	// HarvestMs covers attach, navigation, scrolling, selection and acquisition.
	HarvestMs int64 `json:"harvest_ms"`

	// AnalysisMs is the time spent in the extraction capability.
	AnalysisMs int64 `json:"analysis_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string        `json:"status"` // "healthy" or "degraded"
	Uptime  string        `json:"uptime"`
	Browser BrowserStatus `json:"browser"`
	Version string        `json:"version"`
}

// BrowserStatus reports whether the debugging endpoint answers.
type BrowserStatus struct {
	DebugURL  string `json:"debug_url"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

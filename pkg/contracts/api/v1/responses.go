package api

import "time"

// LicenseActivateResponse reports a successful activation.
type LicenseActivateResponse struct {
	// Outcome is activated, activated_not_persisted or welcome_back.
	Outcome  string `json:"outcome"`
	Message  string `json:"message"`
	ExpireAt string `json:"expire_at,omitempty"`
	// Persisted is false when the ledger write-back failed. The caller is
	// logged in regardless.
	Persisted bool   `json:"persisted"`
	TraceID   string `json:"trace_id"`
}

// LicenseStatusResponse is the gate decision for the caller.
type LicenseStatusResponse struct {
	State     string    `json:"state"`
	License   string    `json:"license,omitempty"`
	Source    string    `json:"source,omitempty"`
	DeviceID  string    `json:"device_id"`
	TraceID   string    `json:"trace_id"`
	Timestamp time.Time `json:"timestamp"`
}

// LogoutResponse confirms a logout.
type LogoutResponse struct {
	State   string `json:"state"`
	Message string `json:"message"`
}

// Subject is one catalog entry with its suggested tasks.
type Subject struct {
	Name  string   `json:"name"`
	Tasks []string `json:"tasks"`
}

// SubjectsResponse lists the analysis catalog.
type SubjectsResponse struct {
	Subjects []Subject `json:"subjects"`
}

// AnalysisResponse is the final result of an analysis.
type AnalysisResponse struct {
	Subject         string `json:"subject"`
	Task            string `json:"task"`
	Strategy        string `json:"strategy"`
	Recognized      string `json:"recognized"`
	Explanation     string `json:"explanation"`
	ExplanationHTML string `json:"explanation_html"`
	DurationMS      int64  `json:"duration_ms"`
	TraceID         string `json:"trace_id"`
}

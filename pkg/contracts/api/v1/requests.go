// Package api contains the HTTP API contract of scholarpass.
// Version v1 is the current stable API version.
package api

// LicenseActivateRequest is the body of POST /api/license/activate.
// An empty key is accepted here and denied as "missing license" by the
// activation engine.
type LicenseActivateRequest struct {
	LicenseKey string `json:"license_key" validate:"max=256,license_key"`
}

// AnalysisRequest holds the form fields of POST /api/analysis. The photo
// travels in the multipart part named "image".
type AnalysisRequest struct {
	Subject string `form:"subject" validate:"required,max=64"`
	Task    string `form:"task" validate:"max=200,printable"`
}

// AnalysisStreamRequest is one analysis request sent over /ws/analysis.
type AnalysisStreamRequest struct {
	Subject     string `json:"subject" validate:"required,max=64"`
	Task        string `json:"task" validate:"max=200,printable"`
	ImageBase64 string `json:"image_base64" validate:"required"`
}

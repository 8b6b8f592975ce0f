// Package services implements the business logic layer of scholarpass.
// It sits between the HTTP handlers and the license engine, session tokens
// and inference clients, so handlers only decode requests and render
// responses.
//
// # Available Services
//
//	- LicenseService: activation, gate status and logout for one session
//	- AnalysisService: enhance, recognize and explain an uploaded photo
//	- HealthService: liveness, readiness and version information
//
// # Service Pattern
//
// Services take their collaborators as small interfaces and a *slog.Logger:
//
//	svc := services.NewLicenseService(engine, limiter, tokens, gate, metrics, logger)
//	resp, err := svc.Activate(ctx, sess, jar, clientKey, key)
//
// # Error Handling
//
// Services return the sentinel errors of the license and inference
// packages, wrapped with the failing step. Handlers pass them unchanged to
// the error handler, which maps them to RFC 7807 problems.
//
// # Testing
//
// Collaborators are replaced with testify mocks. See the _test.go files.
package services

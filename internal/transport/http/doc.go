// Package http implements the HTTP and websocket handlers of scholarpass.
// Handlers stay thin: they decode and validate the request, call a service
// and render the response. Every failure goes through the shared
// ErrorHandler so clients always receive RFC 7807 problem details.
//
// # Routes
//
//	POST /api/license/activate   activate a license for this session
//	GET  /api/license/status     gate decision for this session
//	POST /api/license/logout     revoke the token and force logout
//	GET  /api/subjects           subject and task catalog
//	POST /api/analysis           multipart photo analysis (license required)
//	GET  /ws/analysis            streamed analysis (license required)
//	GET  /api/health[/live|/ready]
//
// # Error Handling
//
//	{
//	    "type": "/errors/license/not-found",
//	    "title": "License Not Found",
//	    "status": 404,
//	    "detail": "license not found",
//	    "instance": "/api/license/activate",
//	    "error_code": "LICENSE_NOT_FOUND",
//	    "trace_id": "..."
//	}
//
// # WebSocket Support
//
// The analysis stream upgrades with gorilla/websocket, then replies to each
// request with progress messages followed by one result or error message.
//
// # Testing
//
// Handlers are tested with httptest and testify mocks of the services.
package http

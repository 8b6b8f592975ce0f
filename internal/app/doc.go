// Package app wires scholarpass together and owns its lifecycle.
//
// # Initialization Flow
//
//	1. Load configuration from defaults, YAML and SCHOLARPASS_* variables
//	2. Initialize logging and OpenTelemetry
//	3. Open the license ledger store (a missing secret leaves it unset)
//	4. Build the activation engine, session registry, token codec and gate
//	5. Build services, handlers and the chi router
//	6. Serve until the context ends, then shut down gracefully
//
// # Usage
//
//	a, err := app.NewApplication("")
//	if err != nil {
//	    return err
//	}
//	return a.Run(ctx)
package app

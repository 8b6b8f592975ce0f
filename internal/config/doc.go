// Package config loads the service configuration.
//
// Values come from three layers, later ones winning:
//
//  1. Default()
//  2. a YAML file (SCHOLARPASS_CONFIG, config.yaml or configs/config.yaml)
//  3. environment variables prefixed with SCHOLARPASS_
//
// Environment names follow the struct nesting, for example
// SCHOLARPASS_SERVER_PORT or SCHOLARPASS_LEDGER_ACCESS_TOKEN.
//
// The four provider secrets are optional. Without them the matching
// operation reports "not configured" at request time:
//
//	SCHOLARPASS_LEDGER_ACCESS_TOKEN
//	SCHOLARPASS_LEDGER_DOCUMENT_ID
//	SCHOLARPASS_INFERENCE_OCR_API_KEY
//	SCHOLARPASS_INFERENCE_REASONING_API_KEY
package config

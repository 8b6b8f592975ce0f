package config

import "scholarpass/pkg/contracts"

// Application constants
const (
	AppName    = "scholarpass"
	AppVersion = contracts.Version
)

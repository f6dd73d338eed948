package config

import "errors"

// Sentinel errors of this package, for errors.Is.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
	ErrUnknownKey    = errors.New("unknown settings key")
)

package config

import "errors"

var (
	// ErrConfigNotFound indicates the configuration document does not exist.
	ErrConfigNotFound = errors.New("config not found")

	// ErrConfigParse indicates a malformed document or a missing required section.
	ErrConfigParse = errors.New("config parse error")

	// ErrConfigInvalid indicates the configuration failed validation.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrInvalidOverride indicates an override that is not KEY=VALUE.
	ErrInvalidOverride = errors.New("invalid override")

	// ErrOverrideConflict indicates an override path that crosses a non-mapping value.
	ErrOverrideConflict = errors.New("override conflict")
)

package filters

import "errors"

// ErrUnknownFilter is the sentinel behind "unknown filter" ConfigErrors
// (spec.md §7), so callers can errors.Is/errors.As instead of matching
// on message text.
var ErrUnknownFilter = errors.New("unknown filter")

// ConfigError wraps a configuration-time failure: malformed descriptor,
// unknown filter, invalid parameter, or a language-invariant violation
// (spec.md §7's ConfigError kind).
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

func configErr(op string, err error) error {
	return &ConfigError{Op: op, Err: err}
}

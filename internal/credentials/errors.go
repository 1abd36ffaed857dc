package credentials

import "errors"

var (
	ErrConfiguration = errors.New("invalid ssh credential configuration")
	ErrNotFound      = errors.New("no ssh credential for host")
)

// Entry parsing errors; reported per line and never abort a load
var (
	errMissingSeparator = errors.New("missing '=' between host and value")
	errEmptyHost        = errors.New("host is empty")
	errMissingFields    = errors.New("expected user|secret|port")
	errEmptyUser        = errors.New("user is empty")
	errInvalidPort      = errors.New("port must be a number between 1 and 65535")
)

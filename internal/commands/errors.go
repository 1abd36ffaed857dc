package commands

import "errors"

var (
	ErrHistoryDisabled = errors.New("execution history is disabled")
	ErrNoHosts         = errors.New("no hosts to run on")
)

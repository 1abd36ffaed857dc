package ssh

import "errors"

// Session establishment errors
var (
	ErrConnection         = errors.New("ssh connection failed")
	ErrFailedToCreateAuth = errors.New("failed to create auth")
	ErrPoolClosed         = errors.New("session pool closed")
)

// Command execution errors
var (
	ErrExecution           = errors.New("ssh command execution failed")
	ErrNilSession          = errors.New("ssh session is nil")
	ErrEmptyCommand        = errors.New("command is empty")
	ErrSessionDisconnected = errors.New("ssh session is not connected")
)

var (
	errProbeTimeout  = errors.New("keepalive probe timed out")
	errSessionClosed = errors.New("session closed during keepalive probe")
)

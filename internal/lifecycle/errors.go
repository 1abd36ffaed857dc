package lifecycle

import "errors"

var (
	ErrInvalidCatalog = errors.New("invalid lifecycle catalog")
	ErrUnknownAction  = errors.New("unknown lifecycle action")
	ErrMissingParam   = errors.New("missing lifecycle parameter")
	ErrInvalidParam   = errors.New("invalid lifecycle parameter")
)

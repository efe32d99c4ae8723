package memory

import "errors"

// ErrStoreClosed is returned by operations after Close.
var ErrStoreClosed = errors.New("store is closed")

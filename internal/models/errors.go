package models

import "errors"

// ErrNotFound is returned by stores when a referenced entity no longer
// exists. Timeout handlers treat it as log-and-drop, never fatal.
var ErrNotFound = errors.New("entity not found")

// Package apperr holds error values shared across packages.
package apperr

import "errors"

// ErrInvalidArgument marks errors caused by caller input that can never
// succeed as given, such as an unknown provider type or key name.
var ErrInvalidArgument = errors.New("invalid argument")

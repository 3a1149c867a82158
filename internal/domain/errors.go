// Package domain holds errors shared by the domain packages.
package domain

import "errors"

// ErrValidation marks input rejected before any work was done, such as an
// inbound message without a sender or a malformed tool service definition.
// Wrap it with the offending field.
var ErrValidation = errors.New("validation failed")

package utils

import "errors"

// ErrorRecordNotFound is the store-agnostic not-found sentinel; handlers map
// it to a 404 without leaking the storage layer's own error types.
var ErrorRecordNotFound = errors.New("record not found")

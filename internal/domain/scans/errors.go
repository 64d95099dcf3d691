package scans

import "errors"

// ErrNotFound indicates the scan row (or its guard status) is gone. Workers
// treat it as a no-op so a job deleted mid-run never crashes its worker.
var ErrNotFound = errors.New("scan not found")

package store

import "errors"

// ErrNotFound is returned when a project id has no record.
var ErrNotFound = errors.New("project not found")

// ErrCurrentProject is returned when deleting the project the current
// pointer references.
var ErrCurrentProject = errors.New("cannot delete the current project")

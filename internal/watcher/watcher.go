// Package watcher detects file changes in watched directories and emits
// debounced events for incremental indexing.
package watcher

import "time"

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a file system event.
type FileEvent struct {
	// Path is the absolute path to the file.
	Path string

	// Operation is the type of file system operation.
	Operation Operation

	// Timestamp is when the event was detected.
	Timestamp time.Time
}

// defaultIgnoreSubstrings are path fragments that mark noise not worth
// indexing. Matching is plain substring on the full path.
var defaultIgnoreSubstrings = []string{
	".DS_Store",
	".git",
	"__pycache__",
	".pyc",
	".venv",
	"node_modules",
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the time to wait before emitting coalesced events.
	// Default: 200ms
	DebounceWindow time.Duration

	// EventBufferSize is the size of the event channel buffer.
	// Default: 1000
	EventBufferSize int

	// IgnoreSubstrings are path fragments to ignore in addition to the
	// built-in list.
	IgnoreSubstrings []string
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	if o.DebounceWindow == 0 {
		o.DebounceWindow = 200 * time.Millisecond
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = 1000
	}
	return o
}

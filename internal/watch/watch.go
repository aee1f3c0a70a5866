// Package watch tails a story directory and re-ingests changed documents.
// File events are debounced so an editor writing a document in several
// bursts triggers one ingest, not five.
package watch

import (
	"path/filepath"
	"strings"
	"time"
)

// Op is a file system operation type.
type Op int

const (
	// OpCreate indicates a new document appeared.
	OpCreate Op = iota
	// OpModify indicates an existing document changed.
	OpModify
	// OpDelete indicates a document was removed.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
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

// Event is one document change.
type Event struct {
	// Path is relative to the watched root.
	Path string

	Op Op

	// Timestamp is when the event was detected.
	Timestamp time.Time
}

// Options configures watching behavior.
type Options struct {
	// Debounce is how long to wait before emitting coalesced events.
	// Default: 2s, matching editors that save in bursts.
	Debounce time.Duration

	// Extensions are the document extensions to watch (with dot).
	// Default: .md and .txt.
	Extensions []string

	// BufferSize is the event channel buffer. Default: 100.
	BufferSize int
}

// DefaultOptions returns the default watch options.
func DefaultOptions() Options {
	return Options{
		Debounce:   2 * time.Second,
		Extensions: []string{".md", ".txt"},
		BufferSize: 100,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.Debounce <= 0 {
		o.Debounce = defaults.Debounce
	}
	if len(o.Extensions) == 0 {
		o.Extensions = defaults.Extensions
	}
	if o.BufferSize <= 0 {
		o.BufferSize = defaults.BufferSize
	}
	return o
}

// matches reports whether a path has one of the watched extensions.
func (o Options) matches(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range o.Extensions {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}

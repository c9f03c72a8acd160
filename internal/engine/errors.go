package engine

import "github.com/pkg/errors"

// Sentinel error kinds from the design's error taxonomy. Callers compare
// against these with errors.Is (pkg/errors preserves the chain through
// Wrap/Wrapf), the same pattern the retrieval pack's badger fragment uses
// for its own wrapped I/O errors.
var (
	// ErrInvalidPath is returned when a directory argument does not exist
	// or is not a directory.
	ErrInvalidPath = errors.New("engine: invalid path")

	// ErrInvalidLogFile is returned when load is given a non-regular-file
	// path, or compact's target path already exists.
	ErrInvalidLogFile = errors.New("engine: invalid log file")

	// ErrKeyNotFound is returned by Remove when the key is absent from the
	// index.
	ErrKeyNotFound = errors.New("engine: key not found")

	// ErrEncoding is returned by KvStore.Get when stored bytes are not
	// valid UTF-8.
	ErrEncoding = errors.New("engine: invalid utf-8 encoding")
)

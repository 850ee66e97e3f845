package local

import "fmt"

// MalformedInputError reports an input container that could not be read, or not decoded
// into a list of records even after known wrappers were stripped. Err keeps the cause, so
// a missing file still matches os.ErrNotExist.
type MalformedInputError struct {
	Path string
	Err  error
}

func (e *MalformedInputError) Error() string {
	if e == nil {
		return "malformed input"
	}
	return fmt.Sprintf("malformed input %s: %v", e.Path, e.Err)
}

func (e *MalformedInputError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// CheckpointCorruptionError reports an existing checkpoint that could not be parsed.
// LoadProgress returns it together with an empty progress sequence; callers log it and
// start from the beginning.
type CheckpointCorruptionError struct {
	Path string
	Err  error
}

func (e *CheckpointCorruptionError) Error() string {
	if e == nil {
		return "corrupt checkpoint"
	}
	return fmt.Sprintf("corrupt checkpoint %s: %v", e.Path, e.Err)
}

func (e *CheckpointCorruptionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

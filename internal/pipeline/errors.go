package pipeline

import "errors"

// ErrExtensionNotAllowed is returned when a processor's allowed-extensions
// set does not include the current extension. Callers that need the
// repository-level error kind should wrap or compare with errors.Is.
var ErrExtensionNotAllowed = errors.New("pipeline: extension not allowed by processor")

// ErrSourceUnchanged signals that no processor in the run reported a
// change, and the pipeline was configured to raise this instead of
// silently returning the untouched source as its own result.
var ErrSourceUnchanged = errors.New("pipeline: source unchanged")

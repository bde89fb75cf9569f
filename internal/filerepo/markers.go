package filerepo

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
)

// logToMarker appends a diagnostic entry to a marker file, creating it if
// necessary. In MarkerLoggingNone mode it only creates the marker; no
// body is written. I/O failures are swallowed when the marker already
// exists or isn't required, since a logging failure must never mask the
// original fault that triggered it.
func logToMarker(fsys afero.Fs, mode MarkerLogging, path, header, body string, markerRequired bool) error {
	f, err := fsys.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		if !markerRequired {
			return nil
		}
		if _, statErr := fsys.Stat(path); statErr == nil {
			return nil
		}
		return fmt.Errorf("log to marker %s: %w", path, err)
	}
	defer f.Close()

	if mode != MarkerLoggingHumanReadable {
		return nil
	}

	entry := fmt.Sprintf("==== %s ====\n\nTimestamp: %s\n\n%s\n\n", header, time.Now().UTC().Format(time.RFC3339Nano), body)
	// The marker exists at this point, so a failed write is swallowed.
	_, _ = f.WriteString(entry)
	return nil
}

// ensureMarker creates path if it does not already exist, swallowing an
// already-exists race (another goroutine/process won it first).
func ensureMarker(fsys afero.Fs, mode MarkerLogging, path, header, body string) error {
	return logToMarker(fsys, mode, path, header, body, true)
}

// removeMarkerBestEffort deletes path, ignoring a not-exist error.
func removeMarkerBestEffort(fsys afero.Fs, path string) {
	if err := fsys.Remove(path); err != nil && !os.IsNotExist(err) {
		// Nothing we can do about a marker that refuses to go away; the
		// cleanup sweep will see it again on its next pass.
		_ = err
	}
}

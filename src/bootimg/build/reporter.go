package build

import (
	"fmt"
	"io"
	"os"
)

// Reporter emits the toolchain build log when a pipeline run ends
type Reporter struct {
	w io.Writer
}

// NewReporter creates a reporter writing to w
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

// Report copies the log at path to the reporter's writer between header
// lines. A missing log is not an error.
func (r *Reporter) Report(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("No build log to report", "path", path)
			return nil
		}
		return fmt.Errorf("failed to open build log: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(r.w, "==> build log: %s\n", path); err != nil {
		return err
	}
	if _, err := io.Copy(r.w, f); err != nil {
		return fmt.Errorf("failed to copy build log: %w", err)
	}
	_, err = fmt.Fprintf(r.w, "\n<== end of build log\n")
	return err
}

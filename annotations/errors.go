package annotations

import (
	"fmt"
	"strings"
)

// GeometryError reports that a document side could not be rectified because
// one or more of the required corner landmark categories had no detection.
// It degrades the affected side to best-effort; it is never fatal to a run.
type GeometryError struct {
	Side    string
	Missing []string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("cannot compute homography for %s side: no detection for corner categories [%s]",
		e.Side, strings.Join(e.Missing, ", "))
}

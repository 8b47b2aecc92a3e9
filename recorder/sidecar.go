package recorder

import (
	"bufio"
	"fmt"
	"os"

	"imx296-capture/models"
)

// writeSidecar dumps the ring snapshot taken at Idle->Arming to a plain-text
// file alongside the planned output, in the exact format spec.md §4.5.3
// requires: a three-line header, then one "<frame_number> <capture_time>"
// line per frame in ascending order.
func writeSidecar(path, sessionID string, frames []models.FrameEvent, oldestAge float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create sidecar %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "# Pre-trigger buffer frames for %s\n", sessionID)
	fmt.Fprintf(w, "# Captured before trigger; 1 line per frame: <frame_number> <capture_time_s>\n")
	fmt.Fprintf(w, "# Buffer duration: %.3f s, frames: %d\n", oldestAge, len(frames))
	for _, fr := range frames {
		fmt.Fprintf(w, "%d %.3f\n", fr.FrameNumber, fr.CaptureTime)
	}
	return w.Flush()
}

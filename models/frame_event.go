package models

// Provenance tags which channel a FrameEvent was observed on, so the ingest
// engine can de-duplicate frames reported by both the agent's stdout and its
// markers file.
type Provenance int

const (
	SourceAgentStdout Provenance = iota
	SourceMarkersFile
)

func (p Provenance) String() string {
	switch p {
	case SourceAgentStdout:
		return "agent_stdout"
	case SourceMarkersFile:
		return "markers_file"
	default:
		return "unknown"
	}
}

// FrameEvent is the atomic unit of information flowing through the
// pipeline: a (frame_number, capture_time) pair reported by the camera
// agent, tagged with the channel it arrived on.
type FrameEvent struct {
	FrameNumber uint64
	CaptureTime float64 // seconds, as reported by the camera agent
	Source      Provenance
}

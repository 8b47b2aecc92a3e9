// Package status produces the core's externally-visible health snapshot:
// the canonical JSON file per spec §6, and a simpler legacy plain-text
// companion carried over from the source's terminal-fallback writer.
package status

// Snapshot is the fixed status schema written at >=1 Hz. It carries no
// schema version field.
type Snapshot struct {
	ServiceRunning bool          `json:"service_running"`
	Uptime         float64       `json:"uptime"`
	LSLStatus      LSLStatus     `json:"lsl_status"`
	BufferStatus   BufferStatus  `json:"buffer_status"`
	Recording      Recording     `json:"recording_status"`
	Trigger        Trigger       `json:"trigger_status"`
	System         System        `json:"system_info"`
}

// LSLStatus reports the sync-bus outlet's connection and throughput.
type LSLStatus struct {
	Connected       bool       `json:"connected"`
	SamplesSent     uint64     `json:"samples_sent"`
	SamplesPerSecond float64   `json:"samples_per_second"`
	LastSample      [3]float64 `json:"last_sample"`
}

// BufferStatus reports the pre-trigger ring's fill level.
type BufferStatus struct {
	CurrentSize       int     `json:"current_size"`
	MaxSize           int     `json:"max_size"`
	UtilizationPercent float64 `json:"utilization_percent"`
	OldestFrameAge    float64 `json:"oldest_frame_age"`
}

// Recording reports the recorder state machine's current session, if any.
type Recording struct {
	Active         bool    `json:"active"`
	CurrentFile    string  `json:"current_file"`
	FramesRecorded uint64  `json:"frames_recorded"`
	Duration       float64 `json:"duration"`
}

// Trigger reports the most recent trigger arbitration decision.
type Trigger struct {
	LastTriggerType string  `json:"last_trigger_type"`
	LastTriggerTime float64 `json:"last_trigger_time"`
	TriggerCount    uint64  `json:"trigger_count"`
}

// System carries host resource gauges, sampled best-effort.
type System struct {
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryPercent    float64 `json:"memory_percent"`
	DiskUsagePercent float64 `json:"disk_usage_percent"`
}

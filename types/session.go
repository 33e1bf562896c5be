package types

import "time"

type SessionStatus string

const (
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
)

type ProgressState string

const (
	ProgressPending    ProgressState = "pending"
	ProgressProcessing ProgressState = "processing"
	ProgressCompleted  ProgressState = "completed"
	ProgressFailed     ProgressState = "failed"
)

// Document field paths used with session partial updates.
const (
	FieldStatus           = "status"
	FieldProgressAnalysis = "progress.audio-analysis"
	FieldProgressStems    = "progress.stems"
	FieldEssentia         = "essentiaAnalysis"
	FieldStems            = "stems"
	FieldMidi             = "midi"
	FieldUpdatedAt        = "updatedAt"
)

type Progress struct {
	AudioAnalysis ProgressState `json:"audio-analysis"`
	Stems         ProgressState `json:"stems"`
}

type KeyResult struct {
	Key   string `json:"key"`
	Scale string `json:"scale"`
}

type EssentiaAnalysis struct {
	BPM   float64 `json:"bpm"`
	Key   string  `json:"key"`
	Scale string  `json:"scale"`
}

// Session is one end-to-end unit of client work, one uploaded file.
type Session struct {
	SessionID        string            `json:"sessionId"`
	FilePath         string            `json:"filePath,omitempty"`
	SessionDir       string            `json:"sessionDir,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	Status           SessionStatus     `json:"status,omitempty"`
	Progress         Progress          `json:"progress"`
	EssentiaAnalysis *EssentiaAnalysis `json:"essentiaAnalysis,omitempty"`
	Stems            map[string]string `json:"stems,omitempty"`
	Midi             map[string]string `json:"midi,omitempty"`
}

// Note is one extracted note event, times in seconds.
type Note struct {
	StartTime float64
	Duration  float64
	Pitch     int
	Amplitude float64
	// PitchBends holds one bend value per model frame, in semitones.
	PitchBends []float64
}

package protocol

import "time"

// ResultCreated is broadcast after a recognition result is persisted.
type ResultCreated struct {
	ResultID          string    `json:"result_id"`
	ClipID            string    `json:"clip_id"`
	OwnerID           string    `json:"owner_id"`
	EngineName        string    `json:"engine_name"`
	Accuracy          float64   `json:"accuracy"`
	ModelProcessingMS int64     `json:"model_processing_ms"`
	SuiteID           string    `json:"suite_id,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// SuiteCompleted is broadcast once every result of a batch run has committed.
type SuiteCompleted struct {
	SuiteID     string    `json:"suite_id"`
	OwnerID     string    `json:"owner_id"`
	ResultCount int       `json:"result_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// RecognizeRequest asks the daemon to run one clip through one engine, or
// through every engine when EngineName is empty. Sent request/reply; the
// reply carries the persisted results as JSON, or an ErrorReply.
type RecognizeRequest struct {
	ClipID     string `json:"clip_id"`
	Expected   string `json:"expected"`
	EngineName string `json:"engine_name,omitempty"`
}

// ErrorReply is returned on the reply subject when a request fails.
type ErrorReply struct {
	Error string `json:"error"`
}

const (
	SubjectResultCreated    = "recognition.result.created"
	SubjectSuiteCompleted   = "recognition.suite.completed"
	SubjectRecognizeRequest = "recognition.request"
)

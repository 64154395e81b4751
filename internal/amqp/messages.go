package amqp

import (
	"encoding/json"
	"time"
)

// Scan event kinds carried on the results queue.
const (
	EventProgress = "progress"
	EventResult   = "result"
)

// ScanJobMessage asks the OCR worker to recognize one receipt photo.
// The image travels inline; receipts are small enough that spooling
// them elsewhere would not pay for itself.
type ScanJobMessage struct {
	JobID     string    `json:"jobId"`
	Language  string    `json:"language"`
	Image     []byte    `json:"image"`
	Timestamp time.Time `json:"timestamp"`
}

// ScanEventMessage reports recognition progress and, eventually, the
// recognized text or a failure, back to the server.
type ScanEventMessage struct {
	Type      string    `json:"type"`
	JobID     string    `json:"jobId"`
	Phase     string    `json:"phase,omitempty"`
	Progress  float64   `json:"progress,omitempty"`
	Text      string    `json:"text,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewScanJobMessage creates a job message for one image.
func NewScanJobMessage(jobID, language string, image []byte) *ScanJobMessage {
	return &ScanJobMessage{
		JobID:     jobID,
		Language:  language,
		Image:     image,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ScanJobMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ScanJobMessageFromJSON creates a message from JSON bytes
func ScanJobMessageFromJSON(data []byte) (*ScanJobMessage, error) {
	var msg ScanJobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ToJSON converts the message to JSON bytes
func (m *ScanEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ScanEventMessageFromJSON creates a message from JSON bytes
func ScanEventMessageFromJSON(data []byte) (*ScanEventMessage, error) {
	var msg ScanEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Rig phase and sequence messages
	MessageTypeMachineState MessageType = "machine_state"
	MessageTypeTransition   MessageType = "state_transition"

	// Sensor readings
	MessageTypeTelemetry MessageType = "telemetry"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"
	MessageTypeSelfTest     MessageType = "self_test"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// MachineStateData represents a rig phase change
type MachineStateData struct {
	State    string `json:"state"`
	Previous string `json:"previous_state"`
}

// TransitionData represents one sequence state change
type TransitionData struct {
	RunID string `json:"run_id"`
	From  string `json:"from"`
	To    string `json:"to"`
}

// TelemetryData is one sensor reading
type TelemetryData struct {
	Source     string  `json:"source"`
	Peripheral int     `json:"peripheral"`
	Value      float64 `json:"value"`
	Timestamp  float64 `json:"reading_timestamp"`
}

// SelfTestData reports a self-test pass
type SelfTestData struct {
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Helper functions for creating specific message types

func NewMachineStateMessage(newState, previousState string) Message {
	return NewMessage(MessageTypeMachineState, MachineStateData{
		State:    newState,
		Previous: previousState,
	})
}

func NewTransitionMessage(runID, from, to string) Message {
	return NewMessage(MessageTypeTransition, TransitionData{
		RunID: runID,
		From:  from,
		To:    to,
	})
}

func NewTelemetryMessage(source string, peripheral int, value, timestamp float64) Message {
	return NewMessage(MessageTypeTelemetry, TelemetryData{
		Source:     source,
		Peripheral: peripheral,
		Value:      value,
		Timestamp:  timestamp,
	})
}

func NewSelfTestMessage(failures []string) Message {
	return NewMessage(MessageTypeSelfTest, SelfTestData{
		Passed:   len(failures) == 0,
		Failures: failures,
	})
}

package transport

import (
	"alia/internal/body"
)

// Frame types.
const (
	TypeHello    = "hello"    // out: session created
	TypeSense    = "sense"    // in: sensors, hardware and an optional utterance
	TypeSay      = "say"      // in: an utterance only
	TypeSaid     = "said"     // out: one line of speech
	TypeCommands = "commands" // out: actuator commands changed
	TypeError    = "error"    // out: the last frame was rejected
)

// InFrame is what a body sends.
type InFrame struct {
	Type     string         `json:"type" binding:"required,oneof=sense say"`
	Input    string         `json:"input,omitempty" binding:"max=4096"`
	Sensors  *body.Sensors  `json:"sensors,omitempty"`
	Hardware *body.Hardware `json:"hardware,omitempty"`
}

// OutFrame is what the server sends.
type OutFrame struct {
	Type     string              `json:"type"`
	Session  string              `json:"session,omitempty"`
	Output   string              `json:"output,omitempty"`
	Commands map[string]body.Bid `json:"commands,omitempty"`
	Code     int                 `json:"code"`
	Cycle    int64               `json:"cycle,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// Package client provides WebSocket and HTTP clients for the tagscan daemon.
// Types mirror the daemon wire protocol without importing daemon packages.
package client

import (
	"encoding/json"
	"time"
)

// MessageType identifies the kind of WebSocket message.
type MessageType string

const (
	MsgTag MessageType = "tag"
)

// WSMessage is the envelope for all WebSocket messages.
type WSMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Delivery is a tag identifier handed to the listener.
type Delivery struct {
	UID       string    `json:"uid"`
	SessionID string    `json:"sessionId"`
	TS        time.Time `json:"ts"`
}

type Counters struct {
	Sessions          int `json:"sessions"`
	Delivered         int `json:"delivered"`
	IgnoredDuplicates int `json:"ignoredDuplicates"`
	IgnoredStale      int `json:"ignoredStale"`
	Retries           int `json:"retries"`
	Dropped           int `json:"dropped"`
	NudgeFailures     int `json:"nudgeFailures"`
	ActivateFailures  int `json:"activateFailures"`
}

// Status is the session snapshot served by /api/scan/status.
type Status struct {
	State            string   `json:"state"`
	SessionID        string   `json:"sessionId,omitempty"`
	Armed            bool     `json:"armed"`
	Delivered        bool     `json:"delivered"`
	ReceptionActive  bool     `json:"receptionActive"`
	Foreground       bool     `json:"foreground"`
	ListenerAttached bool     `json:"listenerAttached"`
	RetryPending     bool     `json:"retryPending"`
	LastUID          string   `json:"lastUid,omitempty"`
	Counters         Counters `json:"counters"`
}

// Reply is the body of command responses.
type Reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

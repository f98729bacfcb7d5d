package scan

import "encoding/json"

// State is the externally visible phase of the current session.
type State int

const (
	Idle State = iota
	Armed
	Delivered // identifier handed off, disarm in progress
)

var stateNames = map[State]string{
	Idle:      "idle",
	Armed:     "armed",
	Delivered: "delivered",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Counters accumulate over the life of the controller.
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

// Status is a point-in-time copy of the controller's session state.
type Status struct {
	State            State    `json:"state"`
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

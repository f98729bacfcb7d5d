package scan

// Event is an input to the controller. All events are applied one at a time
// on the owner goroutine.
type Event interface {
	eventName() string
}

// EnableRequested arms a new session.
type EnableRequested struct{}

// DisableRequested ends the current session.
type DisableRequested struct{}

// Resumed reports that the host entered the foreground.
type Resumed struct{}

// Paused reports that the host entered the background.
type Paused struct{}

// TagDiscovered is a hardware report of a tag. It carries no session
// identity and may repeat for one physical tap.
type TagDiscovered struct {
	UID []byte
}

// retryDue is the continuation of a delayed delivery attempt.
type retryDue struct {
	seq uint64
}

func (EnableRequested) eventName() string  { return "enable" }
func (DisableRequested) eventName() string { return "disable" }
func (Resumed) eventName() string          { return "resumed" }
func (Paused) eventName() string           { return "paused" }
func (TagDiscovered) eventName() string    { return "tag_discovered" }
func (retryDue) eventName() string         { return "retry_due" }

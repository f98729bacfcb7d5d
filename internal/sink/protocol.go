package sink

type MessageType string

const (
	MsgTag MessageType = "tag"
)

type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

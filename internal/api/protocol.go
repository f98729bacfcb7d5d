package api

import (
	"github.com/operator-mobile/tagscan/internal/errcode"
	"github.com/operator-mobile/tagscan/internal/lifecycle"
)

// Reply is the body of every command response.
type Reply struct {
	OK    bool         `json:"ok"`
	Error errcode.Code `json:"error,omitempty"`
}

type AvailableReply struct {
	Available bool `json:"available"`
}

type PhaseReply struct {
	Reply
	Phase   lifecycle.Phase `json:"phase"`
	Changed bool            `json:"changed"`
}

type TapRequest struct {
	UID string `json:"uid"`
}

type TapReply struct {
	Reply
	UID     string `json:"uid,omitempty"`
	Emitted bool   `json:"emitted"`
}

type EnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

type EnabledReply struct {
	Reply
	Enabled   bool `json:"enabled"`
	Available bool `json:"available"`
}

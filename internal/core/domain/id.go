package domain

import (
	"strconv"

	"github.com/google/uuid"
)

type SessionID uuid.UUID

func NewSessionID() SessionID {
	return SessionID(uuid.New())
}

func ParseSessionID(s string) (SessionID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return SessionID{}, err
	}
	return SessionID(id), nil
}

func (id SessionID) String() string {
	return uuid.UUID(id).String()
}

func (id SessionID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// CallHandle is the opaque identifier the telephony layer hands back for a
// reported call. It is only ever passed back to the same adapter.
type CallHandle string

func NewCallHandle() CallHandle {
	return CallHandle(uuid.New().String())
}

func (h CallHandle) String() string {
	return string(h)
}

// ChannelID identifies a channel on the voice signaling server. 0 is the root.
type ChannelID uint32

func (id ChannelID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// UserSession identifies a connected user on the signaling server.
type UserSession uint32

package port

import "github.com/Wyydra/mumblecall/internal/core/domain"

// StateObserver is the UI facing notification surface. Methods are invoked
// from the coordinator goroutine and must return quickly.
type StateObserver interface {
	OnModelChanged(tree domain.ChannelTree)
	OnUserTalkStateChanged(user domain.User, talking bool)
	OnConnectionStateChange(state domain.ConnectionState)
	OnCallStateChanged(status domain.CallStatus)
	OnError(err error)
}

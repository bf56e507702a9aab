package service

import "github.com/Wyydra/mumblecall/internal/core/domain"

// ResolveChannel finds the channel called name by depth-first pre-order
// search. When the server holds duplicate names the first one visited wins.
func ResolveChannel(tree domain.ChannelTree, name string) (domain.ChannelID, bool) {
	var (
		found domain.ChannelID
		ok    bool
	)
	tree.Walk(func(ch *domain.Channel, _ int) bool {
		if ch.Name == name {
			found, ok = ch.ID, true
			return false
		}
		return true
	})
	return found, ok
}

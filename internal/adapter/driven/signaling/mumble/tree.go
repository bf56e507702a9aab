package mumble

import (
	"sort"

	"layeh.com/gumble/gumble"

	"github.com/Wyydra/mumblecall/internal/core/domain"
)

// snapshotTree copies the client's channel hierarchy. Siblings are ordered
// by position, then name, so resolution order does not depend on map
// iteration.
func snapshotTree(channels gumble.Channels) domain.ChannelTree {
	root, ok := channels[0]
	if !ok || root == nil {
		return domain.ChannelTree{}
	}
	return domain.NewChannelTree(copyChannel(root))
}

func copyChannel(ch *gumble.Channel) domain.Channel {
	out := domain.Channel{
		ID:        domain.ChannelID(ch.ID),
		Name:      ch.Name,
		Temporary: ch.Temporary,
	}

	children := make([]*gumble.Channel, 0, len(ch.Children))
	for _, child := range ch.Children {
		children = append(children, child)
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].Position != children[j].Position {
			return children[i].Position < children[j].Position
		}
		return children[i].Name < children[j].Name
	})
	for _, child := range children {
		out.Children = append(out.Children, copyChannel(child))
	}

	for _, u := range ch.Users {
		out.Users = append(out.Users, copyUser(u))
	}
	sort.Slice(out.Users, func(i, j int) bool { return out.Users[i].Name < out.Users[j].Name })
	return out
}

func copyUser(u *gumble.User) domain.User {
	return domain.User{
		Session:  domain.UserSession(u.Session),
		Name:     u.Name,
		Muted:    u.Muted || u.SelfMuted,
		Deafened: u.Deafened || u.SelfDeafened,
	}
}

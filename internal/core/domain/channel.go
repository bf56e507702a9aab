package domain

type User struct {
	Session  UserSession `json:"session"`
	Name     string      `json:"name"`
	Muted    bool        `json:"muted"`
	Deafened bool        `json:"deafened"`
}

type Channel struct {
	ID        ChannelID `json:"id"`
	Name      string    `json:"name"`
	Temporary bool      `json:"temporary,omitempty"`
	Children  []Channel `json:"children,omitempty"`
	Users     []User    `json:"users,omitempty"`
}

// ChannelTree is a point-in-time copy of the server's channel hierarchy.
// A nil Root means the tree has not been synchronized yet.
type ChannelTree struct {
	Root *Channel `json:"root"`
}

func NewChannelTree(root Channel) ChannelTree {
	return ChannelTree{Root: &root}
}

func (t ChannelTree) Empty() bool {
	return t.Root == nil
}

// Walk visits channels in pre-order and stops as soon as fn returns false.
func (t ChannelTree) Walk(fn func(ch *Channel, depth int) bool) {
	if t.Root == nil {
		return
	}
	walkChannel(t.Root, 0, fn)
}

func walkChannel(ch *Channel, depth int, fn func(*Channel, int) bool) bool {
	if !fn(ch, depth) {
		return false
	}
	for i := range ch.Children {
		if !walkChannel(&ch.Children[i], depth+1, fn) {
			return false
		}
	}
	return true
}

// DisplayItem is one row of the flattened tree shown by a channel list UI.
type DisplayItem struct {
	Name      string    `json:"name"`
	Level     int       `json:"level"`
	IsUser    bool      `json:"is_user"`
	ChannelID ChannelID `json:"channel_id"`
}

// Flatten lists every channel followed by its users, then its sub-channels.
func (t ChannelTree) Flatten() []DisplayItem {
	var items []DisplayItem
	t.Walk(func(ch *Channel, depth int) bool {
		items = append(items, DisplayItem{Name: ch.Name, Level: depth, ChannelID: ch.ID})
		for _, u := range ch.Users {
			items = append(items, DisplayItem{Name: u.Name, Level: depth + 1, IsUser: true, ChannelID: ch.ID})
		}
		return true
	})
	return items
}

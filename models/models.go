package models

// Nostr event kinds the feed cares about.
const (
	KindNote       = 1
	KindContacts   = 3
	KindReaction   = 7
	KindZapReceipt = 9735
	KindMuteList   = 10000
)

// Note is a short-form post as received from a relay. The wire shape is the
// standard Nostr event; Discovery is set locally for notes that arrived via
// the secondary keyword discovery query rather than the primary tag query.
type Note struct {
	Id        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	Kind      int        `json:"kind"`
	CreatedAt int64      `json:"created_at"`
	Tags      [][]string `json:"tags"`
	Text      string     `json:"content"`
	Sig       string     `json:"sig,omitempty"`
	Discovery bool       `json:"-"`
}

// Filter is a Nostr subscription filter as sent in a REQ frame.
type Filter struct {
	Ids     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Topics  []string `json:"#t,omitempty"`
	Refs    []string `json:"#e,omitempty"`
	Since   int64    `json:"since,omitempty"`
	Until   int64    `json:"until,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// MuteList holds the user-level mute sets parsed from a kind 10000 list.
type MuteList struct {
	Authors map[string]struct{}
	Words   []string
	Tags    map[string]struct{}
	Threads map[string]struct{}
}

// EmptyMuteList returns a mute list with all sets allocated and empty.
func EmptyMuteList() MuteList {
	return MuteList{
		Authors: map[string]struct{}{},
		Tags:    map[string]struct{}{},
		Threads: map[string]struct{}{},
	}
}

// FeedPage is one page of the reconciled feed.
type FeedPage struct {
	Notes  []Note  `json:"notes"`
	Cursor *string `json:"cursor"`
}

// Engagement holds per-note interaction counts.
type Engagement struct {
	Likes   int64 `json:"likes"`
	Zaps    int64 `json:"zaps"`
	Replies int64 `json:"replies"`
}

// MergeEvent fired when the reconciler applies a batch of notes to the feed
type MergeEvent struct {
	Mode  string `json:"mode"`
	Notes []Note `json:"notes"`
}

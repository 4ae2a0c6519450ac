package capture

import "sync"

const maxNotices = 50

// Surface is what the user is being shown right now
type Surface struct {
	Kind   string  `json:"kind"` // "draft" or "review"
	ItemID string  `json:"item_id"`
	Drafts []Draft `json:"drafts"`
}

// Inbox is a Presenter that keeps the latest surface and recent notices
// for a polling client.
type Inbox struct {
	mu      sync.Mutex
	surface *Surface
	notices []Notice
}

// NewInbox creates an empty Inbox
func NewInbox() *Inbox {
	return &Inbox{}
}

func (in *Inbox) ShowDraft(itemID string, draft Draft) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.surface = &Surface{Kind: "draft", ItemID: itemID, Drafts: []Draft{draft}}
}

func (in *Inbox) ShowReview(itemID string, drafts []Draft) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.surface = &Surface{Kind: "review", ItemID: itemID, Drafts: append([]Draft{}, drafts...)}
}

func (in *Inbox) Notify(n Notice) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.notices = append(in.notices, n)
	if len(in.notices) > maxNotices {
		in.notices = in.notices[len(in.notices)-maxNotices:]
	}
}

// Surface returns the last shown draft or review, if any
func (in *Inbox) Surface() *Surface {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.surface
}

// Clear drops the surface for itemID once it has been acted on
func (in *Inbox) Clear(itemID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.surface != nil && in.surface.ItemID == itemID {
		in.surface = nil
	}
}

// Drain returns and forgets the pending notices
func (in *Inbox) Drain() []Notice {
	in.mu.Lock()
	defer in.mu.Unlock()
	notices := in.notices
	in.notices = nil
	if notices == nil {
		notices = []Notice{}
	}
	return notices
}

// Package capture accepts expense artifacts while the device may be
// offline, keeps them in a durable queue, and resolves them into expense
// drafts once connectivity and analysis succeed.
//
// An Item is the only persisted record. It is inserted once and removed
// once; it is never updated in place. Whether an item arrived through the
// operating system's share sheet is carried next to it (Held) and is
// never written to the queue.
package capture

import (
	"encoding/base64"
	"fmt"
	"time"
)

// SourceKind identifies the entry point an artifact came from
type SourceKind string

const (
	SourceCamera       SourceKind = "camera"
	SourceGallery      SourceKind = "gallery"
	SourceSharedFile   SourceKind = "shared-file"
	SourceImportedFile SourceKind = "imported-file"
)

// ParseSourceKind validates a source kind received from a client
func ParseSourceKind(s string) (SourceKind, error) {
	switch kind := SourceKind(s); kind {
	case SourceCamera, SourceGallery, SourceSharedFile, SourceImportedFile:
		return kind, nil
	case "":
		return SourceCamera, nil
	default:
		return "", fmt.Errorf("unknown source kind: %q", s)
	}
}

// Item is a queued capture awaiting expense extraction
type Item struct {
	ID        string `json:"id"`
	Payload   string `json:"payload"` // standard base64
	MimeType  string `json:"mime_type"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// NewItem encodes data into a new item
func NewItem(id string, data []byte, mimeType string, ts time.Time) *Item {
	return &Item{
		ID:        id,
		Payload:   base64.StdEncoding.EncodeToString(data),
		MimeType:  mimeType,
		Timestamp: ts.UnixMilli(),
	}
}

// Bytes decodes the payload
func (i *Item) Bytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(i.Payload)
	if err != nil {
		return nil, fmt.Errorf("decoding payload of %s: %w", i.ID, err)
	}
	return data, nil
}

// Size returns the decoded payload size in bytes
func (i *Item) Size() int {
	return base64.StdEncoding.DecodedLen(len(i.Payload))
}

// CapturedAt returns the capture time
func (i *Item) CapturedAt() time.Time {
	return time.UnixMilli(i.Timestamp)
}

// Origin records how an item reached the application
type Origin int

const (
	OriginCapture Origin = iota
	OriginShared
)

func (o Origin) String() string {
	if o == OriginShared {
		return "shared"
	}
	return "capture"
}

// Held pairs an item with its transient origin while it waits for, or
// goes through, analysis. Stored reports whether the item was read from
// the queue; a hand-off item that was never written has Stored unset.
type Held struct {
	Item   *Item
	Origin Origin
	Stored bool
}

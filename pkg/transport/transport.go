package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Attachment carries media either by reference or inline. Exactly one of
// URL and Data is set.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	URL      string `json:"url,omitempty"`
	Data     []byte `json:"-"`
}

func (a Attachment) Inline() bool {
	return len(a.Data) > 0
}

const maxAttachmentBytes = 64 << 20

// Bytes resolves the attachment payload, fetching URL attachments on demand.
func (a Attachment) Bytes(ctx context.Context, client *http.Client) ([]byte, error) {
	if a.Inline() {
		return a.Data, nil
	}
	if a.URL == "" {
		return nil, fmt.Errorf("attachment %s has neither url nor inline data", a.Filename)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("fetching attachment %s: %w", a.Filename, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching attachment %s: unexpected status %d", a.Filename, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
	if err != nil {
		return nil, Transient(fmt.Errorf("reading attachment %s: %w", a.Filename, err))
	}
	if len(data) > maxAttachmentBytes {
		return nil, fmt.Errorf("attachment %s exceeds the %dMB limit", a.Filename, maxAttachmentBytes>>20)
	}
	return data, nil
}

// Message is one outbound send. The dispatcher issues one Message per
// attachment, so adapters see at most a single attachment at a time.
type Message struct {
	To          string
	Body        string
	Attachments []Attachment
}

type Receipt struct {
	MessageID string    `json:"message_id"`
	Channel   string    `json:"channel"`
	SentAt    time.Time `json:"sent_at"`
}

// Adapter sends one message over a channel. Errors crossing this boundary
// are classified exactly once; callers switch on KindOf.
type Adapter interface {
	Name() string
	Send(ctx context.Context, session string, msg Message) (Receipt, error)
}

package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"

	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/store"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/whatsapp"
)

// clientSource is the slice of the registry the adapter depends on.
type clientSource interface {
	Client(name string) (whatsapp.Client, error)
}

// Personal sends through a paired WhatsApp Web session from the registry.
type Personal struct {
	registry clientSource
	fetch    *http.Client
}

func NewPersonal(registry *whatsapp.Registry) *Personal {
	return newPersonal(registry)
}

func newPersonal(registry clientSource) *Personal {
	return &Personal{
		registry: registry,
		fetch:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *Personal) Name() string {
	return store.ChannelPersonal
}

func (p *Personal) Send(ctx context.Context, session string, msg Message) (Receipt, error) {
	client, err := p.registry.Client(session)
	if err != nil {
		if errors.Is(err, whatsapp.ErrNotConnected) {
			return Receipt{}, NotConnected(fmt.Errorf("session %s: %w", session, err))
		}
		return Receipt{}, err
	}

	var messageID string
	if len(msg.Attachments) == 0 {
		messageID, err = client.SendText(ctx, msg.To, msg.Body)
	} else {
		messageID, err = p.sendAttachment(ctx, client, msg)
	}
	if err != nil {
		return Receipt{}, classifySendError(err)
	}

	return Receipt{
		MessageID: messageID,
		Channel:   p.Name(),
		SentAt:    time.Now(),
	}, nil
}

func (p *Personal) sendAttachment(ctx context.Context, client whatsapp.Client, msg Message) (string, error) {
	att := msg.Attachments[0]
	data, err := att.Bytes(ctx, p.fetch)
	if err != nil {
		return "", err
	}

	if strings.HasPrefix(att.MimeType, "image/") {
		return client.SendImage(ctx, msg.To, data, att.MimeType, msg.Body)
	}
	return client.SendDocument(ctx, msg.To, data, att.MimeType, att.Filename)
}

// classifySendError tags errors surfacing from a send so the dispatcher
// can tell a retryable hiccup from a dead session. whatsmeow reports its
// own sentinel errors when the socket drops mid-send or an IQ round-trip
// never completes, so those are mapped alongside ours.
func classifySendError(err error) error {
	if _, classified := KindOf(err); classified {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return Transient(err)
	case errors.Is(err, whatsapp.ErrUploadFailed):
		return Transient(err)
	case errors.Is(err, whatsmeow.ErrIQTimedOut) || errors.Is(err, whatsmeow.ErrIQDisconnected):
		return Transient(err)
	case errors.Is(err, whatsapp.ErrNotConnected):
		return NotConnected(err)
	case errors.Is(err, whatsmeow.ErrNotConnected) || errors.Is(err, whatsmeow.ErrNotLoggedIn) ||
		errors.Is(err, whatsmeow.ErrClientIsNil):
		return NotConnected(err)
	default:
		return err
	}
}

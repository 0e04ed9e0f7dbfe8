package whatsapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/sunshineplan/imgconv"
	"google.golang.org/protobuf/proto"

	qrCode "github.com/skip2/go-qrcode"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wstore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// QRHandler receives each pairing code rendered as a base64 PNG data URI,
// together with its validity window in seconds.
type QRHandler func(pngDataURI string, timeoutSeconds int)

// StatusEvent is pushed by a client whenever the underlying connection
// changes state outside of an explicit Connect call.
type StatusEvent struct {
	Status    string
	Phone     string
	DeviceJID string
	LoggedOut bool
}

type StatusHandler func(StatusEvent)

// Client is the registry's view of one WhatsApp connection. The concrete
// implementation wraps whatsmeow; tests substitute an in-memory fake.
type Client interface {
	Connect(ctx context.Context, onQR QRHandler) error
	Disconnect()
	IsConnected() bool
	IsLoggedIn() bool
	Logout(ctx context.Context) error
	PairedPhone() string
	DeviceJID() string
	SendText(ctx context.Context, phone string, body string) (string, error)
	SendImage(ctx context.Context, phone string, data []byte, mimeType string, caption string) (string, error)
	SendDocument(ctx context.Context, phone string, data []byte, mimeType string, filename string) (string, error)
}

// ClientFactory builds a client for a session, re-binding the persisted
// device when deviceJID is non-empty.
type ClientFactory func(ctx context.Context, name string, deviceJID string, onStatus StatusHandler) (Client, error)

const (
	loginPollInterval = 250 * time.Millisecond
	mediaUploadError  = "error while uploading media to whatsapp server"
)

var ErrUploadFailed = errors.New(mediaUploadError)

// NewClientFactory wires whatsmeow clients against the shared sqlstore
// container. Session names map to devices through the persisted device JID.
func NewClientFactory(container *sqlstore.Container, proxyURL string) ClientFactory {
	wstore.DeviceProps.Os = proto.String(runtime.GOOS)
	wstore.DeviceProps.PlatformType = waCompanionReg.DeviceProps_CHROME.Enum()
	wstore.DeviceProps.RequireFullSync = proto.Bool(false)

	return func(ctx context.Context, name string, deviceJID string, onStatus StatusHandler) (Client, error) {
		var device *wstore.Device
		if deviceJID != "" {
			jid, err := types.ParseJID(deviceJID)
			if err == nil {
				device, _ = container.GetDevice(ctx, jid)
			}
		}
		if device == nil {
			device = container.NewDevice()
		}

		cli := whatsmeow.NewClient(device, nil)
		if proxyURL != "" {
			cli.SetProxyAddress(proxyURL)
		}
		cli.EnableAutoReconnect = true
		cli.AutoTrustIdentity = true

		mc := &meowClient{cli: cli}
		cli.AddEventHandler(func(evt interface{}) {
			if onStatus == nil {
				return
			}
			switch evt.(type) {
			case *events.Connected:
				onStatus(StatusEvent{Status: "connected", Phone: mc.PairedPhone(), DeviceJID: mc.DeviceJID()})
			case *events.Disconnected:
				onStatus(StatusEvent{Status: "disconnected"})
			case *events.LoggedOut, *events.StreamReplaced:
				onStatus(StatusEvent{Status: "disconnected", LoggedOut: true})
			}
		})

		return mc, nil
	}
}

type meowClient struct {
	cli *whatsmeow.Client
}

func (c *meowClient) Connect(ctx context.Context, onQR QRHandler) error {
	if c.cli.Store.ID == nil {
		return c.connectWithPairing(ctx, onQR)
	}

	if err := c.cli.Connect(); err != nil {
		return err
	}
	return c.waitLoggedIn(ctx)
}

func (c *meowClient) connectWithPairing(ctx context.Context, onQR QRHandler) error {
	qrChan, err := c.cli.GetQRChannel(ctx)
	if err != nil {
		return err
	}
	if err := c.cli.Connect(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			c.cli.Disconnect()
			return ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return errors.New("qr channel closed before pairing completed")
			}
			switch evt.Event {
			case "code":
				qrPNG, err := qrCode.Encode(evt.Code, qrCode.Medium, 256)
				if err != nil {
					return err
				}
				if onQR != nil {
					onQR("data:image/png;base64,"+base64.StdEncoding.EncodeToString(qrPNG), int(evt.Timeout.Seconds()))
				}
			case whatsmeow.QRChannelSuccess.Event:
				return c.waitLoggedIn(ctx)
			case whatsmeow.QRChannelTimeout.Event:
				return errors.New("qr pairing timed out before the code was scanned")
			case whatsmeow.QRChannelErrUnexpectedEvent.Event:
				return errors.New("qr pairing entered an unexpected state")
			case whatsmeow.QRChannelClientOutdated.Event:
				return errors.New("client version is outdated for qr pairing")
			case "error":
				if evt.Error != nil {
					return evt.Error
				}
				return errors.New("qr pairing failed")
			}
		}
	}
}

func (c *meowClient) waitLoggedIn(ctx context.Context) error {
	ticker := time.NewTicker(loginPollInterval)
	defer ticker.Stop()
	for {
		if c.cli.IsLoggedIn() {
			return nil
		}
		select {
		case <-ctx.Done():
			c.cli.Disconnect()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *meowClient) Disconnect() {
	c.cli.Disconnect()
}

func (c *meowClient) IsConnected() bool {
	return c.cli.IsConnected()
}

func (c *meowClient) IsLoggedIn() bool {
	return c.cli.IsLoggedIn()
}

func (c *meowClient) Logout(ctx context.Context) error {
	if err := c.cli.Logout(ctx); err != nil {
		c.cli.Disconnect()
		return c.cli.Store.Delete(ctx)
	}
	return nil
}

func (c *meowClient) PairedPhone() string {
	if c.cli.Store.ID == nil {
		return ""
	}
	return c.cli.Store.ID.User
}

func (c *meowClient) DeviceJID() string {
	if c.cli.Store.ID == nil {
		return ""
	}
	return c.cli.Store.ID.String()
}

func (c *meowClient) resolveJID(ctx context.Context, phone string) (types.JID, error) {
	normalized := decomposeJID(phone)
	if normalized == "" {
		return types.EmptyJID, fmt.Errorf("invalid recipient %q", phone)
	}
	infos, err := c.cli.IsOnWhatsApp(ctx, []string{"+" + normalized})
	if err != nil {
		return types.EmptyJID, err
	}
	if len(infos) == 0 || !infos[0].IsIn {
		return types.EmptyJID, fmt.Errorf("recipient %s is not registered on whatsapp", normalized)
	}
	return infos[0].JID, nil
}

func decomposeJID(id string) string {
	if strings.ContainsRune(id, '@') {
		id = strings.SplitN(id, "@", 2)[0]
	}
	if len(id) > 0 && id[0] == '+' {
		id = id[1:]
	}
	return strings.TrimSpace(id)
}

func (c *meowClient) presenceWrap(ctx context.Context, to types.JID, send func() error) error {
	_ = c.cli.SendPresence(ctx, types.PresenceAvailable)
	_ = c.cli.SendChatPresence(ctx, to, types.ChatPresenceComposing, types.ChatPresenceMediaText)
	defer func() {
		_ = c.cli.SendChatPresence(ctx, to, types.ChatPresencePaused, types.ChatPresenceMediaText)
		_ = c.cli.SendPresence(ctx, types.PresenceUnavailable)
	}()
	return send()
}

func (c *meowClient) SendText(ctx context.Context, phone string, body string) (string, error) {
	to, err := c.resolveJID(ctx, phone)
	if err != nil {
		return "", err
	}
	msgExtra := whatsmeow.SendRequestExtra{ID: c.cli.GenerateMessageID()}
	msgContent := &waE2E.Message{
		Conversation: proto.String(body),
	}
	err = c.presenceWrap(ctx, to, func() error {
		_, sendErr := c.cli.SendMessage(ctx, to, msgContent, msgExtra)
		return sendErr
	})
	if err != nil {
		return "", err
	}
	return msgExtra.ID, nil
}

func (c *meowClient) SendImage(ctx context.Context, phone string, data []byte, mimeType string, caption string) (string, error) {
	to, err := c.resolveJID(ctx, phone)
	if err != nil {
		return "", err
	}

	thumbDecode, err := imgconv.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decoding image for thumbnail: %w", err)
	}
	thumbEncode := new(bytes.Buffer)
	err = imgconv.Write(thumbEncode,
		imgconv.Resize(thumbDecode, &imgconv.ResizeOption{Width: 72}),
		&imgconv.FormatOption{Format: imgconv.JPEG})
	if err != nil {
		return "", fmt.Errorf("encoding image thumbnail: %w", err)
	}

	uploaded, err := c.cli.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return "", ErrUploadFailed
	}
	thumbUploaded, err := c.cli.Upload(ctx, thumbEncode.Bytes(), whatsmeow.MediaLinkThumbnail)
	if err != nil {
		return "", ErrUploadFailed
	}

	msgExtra := whatsmeow.SendRequestExtra{ID: c.cli.GenerateMessageID()}
	msgContent := &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			URL:                 proto.String(uploaded.URL),
			DirectPath:          proto.String(uploaded.DirectPath),
			Mimetype:            proto.String(mimeType),
			Caption:             proto.String(caption),
			FileLength:          proto.Uint64(uploaded.FileLength),
			FileSHA256:          uploaded.FileSHA256,
			FileEncSHA256:       uploaded.FileEncSHA256,
			MediaKey:            uploaded.MediaKey,
			JPEGThumbnail:       thumbEncode.Bytes(),
			ThumbnailDirectPath: &thumbUploaded.DirectPath,
			ThumbnailSHA256:     thumbUploaded.FileSHA256,
			ThumbnailEncSHA256:  thumbUploaded.FileEncSHA256,
		},
	}
	err = c.presenceWrap(ctx, to, func() error {
		_, sendErr := c.cli.SendMessage(ctx, to, msgContent, msgExtra)
		return sendErr
	})
	if err != nil {
		return "", err
	}
	return msgExtra.ID, nil
}

func (c *meowClient) SendDocument(ctx context.Context, phone string, data []byte, mimeType string, filename string) (string, error) {
	to, err := c.resolveJID(ctx, phone)
	if err != nil {
		return "", err
	}

	uploaded, err := c.cli.Upload(ctx, data, whatsmeow.MediaDocument)
	if err != nil {
		return "", ErrUploadFailed
	}

	msgExtra := whatsmeow.SendRequestExtra{ID: c.cli.GenerateMessageID()}
	msgContent := &waE2E.Message{
		DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			Mimetype:      proto.String(mimeType),
			FileName:      proto.String(filename),
			FileLength:    proto.Uint64(uploaded.FileLength),
			FileSHA256:    uploaded.FileSHA256,
			FileEncSHA256: uploaded.FileEncSHA256,
			MediaKey:      uploaded.MediaKey,
		},
	}
	err = c.presenceWrap(ctx, to, func() error {
		_, sendErr := c.cli.SendMessage(ctx, to, msgContent, msgExtra)
		return sendErr
	})
	if err != nil {
		return "", err
	}
	return msgExtra.ID, nil
}

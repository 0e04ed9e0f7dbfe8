package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/env"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/log"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/store"
)

const defaultGraphAPIBase = "https://graph.facebook.com/v19.0"

// HostedAPI sends through the WhatsApp Business Cloud API. It is stateless;
// the session argument is ignored because hosted sends are account-scoped.
type HostedAPI struct {
	baseURL string
	token   string
	phoneID string
	client  *http.Client
}

func NewHostedAPI(baseURL string, token string, phoneID string, client *http.Client) *HostedAPI {
	if baseURL == "" {
		baseURL = defaultGraphAPIBase
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HostedAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		phoneID: phoneID,
		client:  client,
	}
}

// NewHostedAPIFromEnv builds the adapter from environment configuration.
// Missing credentials are surfaced per send as config errors, not at startup.
func NewHostedAPIFromEnv() *HostedAPI {
	baseURL, _ := env.GetEnvString("WHATSAPP_BUSINESS_API_URL")
	token, _ := env.GetEnvString("WHATSAPP_BUSINESS_TOKEN")
	phoneID, _ := env.GetEnvString("WHATSAPP_BUSINESS_PHONE_ID")
	if token == "" || phoneID == "" {
		log.Print(nil).Warn("business api credentials are not set, hosted channel will reject sends")
	}
	return NewHostedAPI(baseURL, token, phoneID, nil)
}

func (h *HostedAPI) Name() string {
	return store.ChannelHostedAPI
}

type hostedText struct {
	Body string `json:"body"`
}

type hostedMedia struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type hostedPayload struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *hostedText  `json:"text,omitempty"`
	Image            *hostedMedia `json:"image,omitempty"`
	Document         *hostedMedia `json:"document,omitempty"`
}

type hostedResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (h *HostedAPI) Send(ctx context.Context, _ string, msg Message) (Receipt, error) {
	if h.token == "" || h.phoneID == "" {
		return Receipt{}, ConfigMissing(errors.New("business api token or phone id is not configured"))
	}

	payload, err := h.buildPayload(msg)
	if err != nil {
		return Receipt{}, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, err
	}

	url := h.baseURL + "/" + h.phoneID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Receipt{}, Transient(fmt.Errorf("business api request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Receipt{}, AuthFailure(fmt.Errorf("business api rejected credentials: status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Receipt{}, Transient(fmt.Errorf("business api unavailable: status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return Receipt{}, fmt.Errorf("business api refused message: status %d: %s", resp.StatusCode, apiErrorMessage(respBody))
	}

	var parsed hostedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Receipt{}, fmt.Errorf("decoding business api response: %w", err)
	}
	if len(parsed.Messages) == 0 {
		return Receipt{}, errors.New("business api response carried no message id")
	}

	return Receipt{
		MessageID: parsed.Messages[0].ID,
		Channel:   h.Name(),
		SentAt:    time.Now(),
	}, nil
}

func (h *HostedAPI) buildPayload(msg Message) (hostedPayload, error) {
	payload := hostedPayload{
		MessagingProduct: "whatsapp",
		To:               msg.To,
	}

	if len(msg.Attachments) == 0 {
		payload.Type = "text"
		payload.Text = &hostedText{Body: msg.Body}
		return payload, nil
	}

	att := msg.Attachments[0]
	if att.Inline() {
		return hostedPayload{}, errors.New("the hosted channel requires attachments by url")
	}

	media := &hostedMedia{Link: att.URL, Caption: msg.Body}
	if strings.HasPrefix(att.MimeType, "image/") {
		payload.Type = "image"
		payload.Image = media
	} else {
		payload.Type = "document"
		media.Filename = att.Filename
		payload.Document = media
	}
	return payload, nil
}

func apiErrorMessage(body []byte) string {
	var parsed hostedResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		return parsed.Error.Message
	}
	return string(body)
}

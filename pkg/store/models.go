package store

import "time"

// Campaign lifecycle statuses.
const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignRunning   = "running"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
	CampaignFailed    = "failed"
)

// Send job statuses. Blocked is terminal and only ever written at
// enqueue time; the dispatcher never produces it.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobSent       = "sent"
	JobFailed     = "failed"
	JobBlocked    = "blocked"
)

// Session statuses as persisted; the live registry is authoritative
// while a connection object exists.
const (
	SessionDisconnected  = "disconnected"
	SessionConnecting    = "connecting"
	SessionQRPending     = "qr_pending"
	SessionAuthenticated = "authenticated"
	SessionConnected     = "connected"
)

// Audience resolution modes.
const (
	TargetContacts = "contacts"
	TargetGroups   = "groups"
	TargetManual   = "manual"
)

// Delivery channels.
const (
	ChannelHostedAPI = "business_api"
	ChannelPersonal  = "wa_web"
)

type Contact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Surname   string    `json:"surname"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	Address   string    `json:"address"`
	Company   string    `json:"company"`
	Consent   bool      `json:"consent"`
	CreatedAt time.Time `json:"created_at"`
}

type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type Template struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Content       string    `json:"content"`
	MediaURL      string    `json:"media_url,omitempty"`
	MediaType     string    `json:"media_type,omitempty"`
	MediaFilename string    `json:"media_filename,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Campaign struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Channel         string `json:"channel"`
	MessageTemplate string `json:"message_template"`
	MediaURL        string `json:"media_url,omitempty"`
	MediaType       string `json:"media_type,omitempty"`
	MediaFilename   string `json:"media_filename,omitempty"`

	TargetType         string   `json:"target_type"`
	TargetContacts     []string `json:"target_contacts,omitempty"`
	TargetGroups       []string `json:"target_groups,omitempty"`
	TargetManualPhones []string `json:"target_manual_phones,omitempty"`

	RatePerSecond    int  `json:"rate_per_second"`
	RatePerMinute    int  `json:"rate_per_minute"`
	DelayMinMs       int  `json:"delay_min_ms"`
	DelayMaxMs       int  `json:"delay_max_ms"`
	RequireConsent   bool `json:"require_consent"`
	DedupeRecipients bool `json:"dedupe_recipients"`

	Status          string `json:"status"`
	TotalRecipients int    `json:"total_recipients"`
	SentCount       int    `json:"sent_count"`
	FailedCount     int    `json:"failed_count"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type SendJob struct {
	ID              string     `json:"id"`
	CampaignID      string     `json:"campaign_id"`
	RecipientPhone  string     `json:"recipient_phone"`
	RecipientName   string     `json:"recipient_name,omitempty"`
	RenderedMessage string     `json:"rendered_message"`
	MediaURL        string     `json:"media_url,omitempty"`
	MediaType       string     `json:"media_type,omitempty"`
	Status          string     `json:"status"`
	Attempts        int        `json:"attempts"`
	MaxAttempts     int        `json:"max_attempts"`
	LastError       string     `json:"last_error,omitempty"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type Session struct {
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	QRCode          string     `json:"qr_code,omitempty"`
	PhoneNumber     string     `json:"phone_number,omitempty"`
	DeviceJID       string     `json:"-"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type HistoryEntry struct {
	ID          string    `json:"id"`
	Phone       string    `json:"phone"`
	Message     string    `json:"message"`
	ContactName string    `json:"contact_name,omitempty"`
	MediaURL    string    `json:"media_url,omitempty"`
	Status      string    `json:"status"`
	Channel     string    `json:"channel,omitempty"`
	CampaignID  string    `json:"campaign_id,omitempty"`
	Error       string    `json:"error,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

package types

// RequestLogin is the operator console login body.
type RequestLogin struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RequestCreateSession struct {
	Name string `json:"name"`
}

type RequestContact struct {
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
	Company string `json:"company"`
	Consent bool   `json:"consent"`
}

type RequestGroup struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type RequestTemplate struct {
	Name          string `json:"name"`
	Content       string `json:"content"`
	MediaURL      string `json:"media_url"`
	MediaType     string `json:"media_type"`
	MediaFilename string `json:"media_filename"`
}

// RequestPreview renders template content against one contact.
type RequestPreview struct {
	Content   string `json:"content"`
	ContactID string `json:"contact_id"`
}

type RequestCreateCampaign struct {
	Name            string `json:"name"`
	Channel         string `json:"channel"`
	TemplateID      string `json:"template_id"`
	MessageTemplate string `json:"message_template"`
	MediaURL        string `json:"media_url"`
	MediaType       string `json:"media_type"`
	MediaFilename   string `json:"media_filename"`

	TargetType         string   `json:"target_type"`
	TargetContacts     []string `json:"target_contacts"`
	TargetGroups       []string `json:"target_groups"`
	TargetManualPhones []string `json:"target_manual_phones"`

	RatePerSecond    int  `json:"rate_per_second"`
	RatePerMinute    int  `json:"rate_per_minute"`
	DelayMinMs       int  `json:"delay_min_ms"`
	DelayMaxMs       int  `json:"delay_max_ms"`
	RequireConsent   bool `json:"require_consent"`
	DedupeRecipients bool `json:"dedupe_recipients"`
}

type RequestWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Mode  string `json:"mode"`
}

// RequestStartCampaign tunes one dispatch run.
type RequestStartCampaign struct {
	Sessions             []string       `json:"sessions"`
	StartIndex           int            `json:"start_index"`
	EndIndex             int            `json:"end_index"`
	MessageDelaySeconds  int            `json:"message_delay_seconds"`
	RateProfile          string         `json:"rate_profile"`
	BreakInterval        int            `json:"break_interval"`
	BreakDurationMinutes int            `json:"break_duration_minutes"`
	Window               *RequestWindow `json:"window"`
}

type RequestBlacklist struct {
	Phone  string `json:"phone"`
	Reason string `json:"reason"`
}

// RequestComplianceCheck evaluates campaign content before launch.
type RequestComplianceCheck struct {
	CampaignID string `json:"campaign_id"`
	Message    string `json:"message"`
}

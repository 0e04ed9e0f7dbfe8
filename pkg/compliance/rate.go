package compliance

import "time"

// RateProfile bounds the per-message delay the dispatcher draws from.
type RateProfile struct {
	Name     string        `json:"name"`
	MinDelay time.Duration `json:"min_delay_ms"`
	MaxDelay time.Duration `json:"max_delay_ms"`
	Note     string        `json:"note"`
}

var rateProfiles = map[string]RateProfile{
	"low": {
		Name:     "low",
		MinDelay: 2000 * time.Millisecond,
		MaxDelay: 5000 * time.Millisecond,
		Note:     "safest pacing for fresh or low-trust numbers",
	},
	"medium": {
		Name:     "medium",
		MinDelay: 1000 * time.Millisecond,
		MaxDelay: 3000 * time.Millisecond,
		Note:     "balanced pacing for warmed-up numbers",
	},
	"high": {
		Name:     "high",
		MinDelay: 500 * time.Millisecond,
		MaxDelay: 2000 * time.Millisecond,
		Note:     "aggressive pacing; raises ban risk",
	},
}

// ProfileByName falls back to the low profile on unknown names so a bad
// value can never speed a campaign up.
func ProfileByName(name string) RateProfile {
	if p, ok := rateProfiles[name]; ok {
		return p
	}
	return rateProfiles["low"]
}

func Profiles() []RateProfile {
	return []RateProfile{rateProfiles["low"], rateProfiles["medium"], rateProfiles["high"]}
}

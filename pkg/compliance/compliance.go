package compliance

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/forPelevin/gomoji"
	"github.com/rivo/uniseg"
)

// Recipient is the evaluator's view of one audience member. Consent and
// block-list membership are resolved by the caller so Evaluate stays pure.
type Recipient struct {
	Phone       string
	Name        string
	Consent     bool
	Blacklisted bool
}

type MediaMeta struct {
	Filename  string
	SizeBytes int64
}

type Input struct {
	Message         string
	Recipients      []Recipient
	Media           *MediaMeta
	ConsentRequired bool
	MaxMediaSizeMB  int64
}

type Result struct {
	Passed   bool     `json:"passed"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

const defaultMaxMediaSizeMB = 50

var (
	urlPattern      = regexp.MustCompile(`https?://[^\s]+`)
	shortURLPattern = regexp.MustCompile(`(?i)(bit\.ly|tinyurl|goo\.gl|t\.co|ow\.ly)`)
)

// hasRepeatedRun reports a run of 5 or more identical characters.
func hasRepeatedRun(s string) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
			if run >= 5 {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}

var safeExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".mp4": true, ".avi": true, ".mov": true, ".webm": true,
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true, ".txt": true,
	".mp3": true, ".wav": true, ".ogg": true, ".aac": true,
}

var executableSuffixes = []string{".exe", ".bat", ".sh", ".cmd", ".com", ".scr", ".vbs"}

// Evaluate runs every rule and aggregates the full report; rules never
// short-circuit so the operator sees all problems at once. Passed is true
// iff no errors were produced; warnings never block a launch.
func Evaluate(in Input) Result {
	var errs, warnings []string

	contentErrs, contentWarnings := checkContent(in.Message)
	errs = append(errs, contentErrs...)
	warnings = append(warnings, contentWarnings...)

	recipientErrs, recipientWarnings := checkRecipients(in.Recipients, in.ConsentRequired)
	errs = append(errs, recipientErrs...)
	warnings = append(warnings, recipientWarnings...)

	if in.Media != nil {
		maxMB := in.MaxMediaSizeMB
		if maxMB <= 0 {
			maxMB = defaultMaxMediaSizeMB
		}
		errs = append(errs, checkMedia(*in.Media, maxMB)...)
	}

	return Result{
		Passed:   len(errs) == 0,
		Errors:   errs,
		Warnings: warnings,
	}
}

func checkContent(message string) (errs []string, warnings []string) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		errs = append(errs, "message content is empty")
		return errs, warnings
	}

	if uniseg.GraphemeClusterCount(trimmed) < 10 {
		warnings = append(warnings, "message is very short; consider a more descriptive text")
	}

	if urls := urlPattern.FindAllString(message, -1); len(urls) > 3 {
		warnings = append(warnings, fmt.Sprintf("message contains %d links and may be flagged as spam", len(urls)))
	}

	if shortURLPattern.MatchString(message) {
		warnings = append(warnings, "shortened link detected; these are often blocked")
	}

	if length := len([]rune(message)); length > 20 {
		upper := 0
		for _, r := range message {
			if unicode.IsUpper(r) {
				upper++
			}
		}
		if float64(upper)/float64(length) > 0.5 {
			warnings = append(warnings, "excessive uppercase usage looks like spam")
		}
	}

	if hasRepeatedRun(message) {
		warnings = append(warnings, "repeated characters detected (e.g. !!!!!)")
	}

	if count := len(gomoji.CollectAll(message)); count > 10 {
		warnings = append(warnings, fmt.Sprintf("message contains %d emoji; excessive emoji usage looks like spam", count))
	}

	return errs, warnings
}

func checkRecipients(recipients []Recipient, consentRequired bool) (errs []string, warnings []string) {
	if len(recipients) == 0 {
		errs = append(errs, "recipient list is empty")
		return errs, warnings
	}

	if consentRequired {
		withoutConsent := 0
		for _, r := range recipients {
			if !r.Consent {
				withoutConsent++
			}
		}
		if withoutConsent > 0 {
			errs = append(errs, fmt.Sprintf("%d recipients have no recorded consent", withoutConsent))
		}
	}

	blacklisted := 0
	for _, r := range recipients {
		if r.Blacklisted {
			blacklisted++
		}
	}
	if blacklisted > 0 {
		errs = append(errs, fmt.Sprintf("%d recipients are on the block-list", blacklisted))
	}

	if len(recipients) > 1000 {
		warnings = append(warnings, fmt.Sprintf("%d recipients in one campaign increases throttling risk; consider splitting", len(recipients)))
	}

	return errs, warnings
}

func checkMedia(media MediaMeta, maxSizeMB int64) (errs []string) {
	if media.SizeBytes > maxSizeMB*1024*1024 {
		errs = append(errs, fmt.Sprintf("media file exceeds %dMB", maxSizeMB))
	}

	lower := strings.ToLower(media.Filename)
	if ext := filepath.Ext(lower); !safeExtensions[ext] {
		errs = append(errs, fmt.Sprintf("unsupported media file type: %s", ext))
	}

	for _, suffix := range executableSuffixes {
		if strings.Contains(lower, suffix) {
			errs = append(errs, "executable-style filename detected")
			break
		}
	}

	return errs
}

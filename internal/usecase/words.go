package usecase

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"studio-assistant/internal/tenant"
)

var (
	otpPattern      = regexp.MustCompile(`^\d{6}$`)
	isoDatePattern  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	indexPattern    = regexp.MustCompile(`^\d{1,2}$`)
	linkCodePattern = regexp.MustCompile(`(?i)\blink[\s:-]*([a-z0-9]{6}-[a-z0-9]{6})\b`)
	bareLinkPattern = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{6}-[0-9A-F]{6}$`)

	todayWords    = []string{"today", "dzis", "dziś", "dzisiaj"}
	tomorrowWords = []string{"tomorrow", "jutro"}
)

// tokens lower-cases s and splits it on anything that is not a letter or digit.
func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsAny(toks, words []string) bool {
	for _, t := range toks {
		for _, w := range words {
			if t == strings.ToLower(w) {
				return true
			}
		}
	}
	return false
}

// isAffirmative reports whether text confirms a staged operation. Any
// negative word wins, and anything unrecognized is a decline.
func isAffirmative(text string, w tenant.Words) bool {
	toks := tokens(text)
	if len(toks) == 0 || containsAny(toks, w.Negative) {
		return false
	}
	return containsAny(toks, w.Affirmative)
}

// isKeyword reports whether the whole message is one of words.
func isKeyword(text string, words []string) bool {
	msg := strings.Join(tokens(text), " ")
	if msg == "" {
		return false
	}
	for _, w := range words {
		if msg == strings.ToLower(strings.TrimSpace(w)) {
			return true
		}
	}
	return false
}

func looksLikeOTP(text string) bool {
	return otpPattern.MatchString(strings.Join(strings.Fields(text), ""))
}

// findLinkCode extracts a linking code typed after the word LINK, or a whole
// message that is exactly a code in the minted alphabet. explicit is true for
// the LINK form.
func findLinkCode(text string) (code string, explicit bool) {
	if m := linkCodePattern.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1]), true
	}
	if bare := strings.TrimSpace(text); bareLinkPattern.MatchString(bare) {
		return bare, false
	}
	return "", false
}

type selection struct {
	index int    // 1-based, 0 when no option was picked
	date  string // YYYY-MM-DD
}

// parseSelection interprets a reply to a numbered class list: an option
// number, a relative day word or an ISO date.
func parseSelection(text string, options int, now time.Time, loc *time.Location) (selection, bool) {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "."))
	if indexPattern.MatchString(trimmed) {
		n, err := strconv.Atoi(trimmed)
		if err == nil && n >= 1 && n <= options {
			return selection{index: n}, true
		}
		return selection{}, false
	}

	toks := tokens(text)
	local := now.In(loc)
	switch {
	case containsAny(toks, todayWords):
		return selection{date: local.Format(time.DateOnly)}, true
	case containsAny(toks, tomorrowWords):
		return selection{date: local.AddDate(0, 0, 1).Format(time.DateOnly)}, true
	}
	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		if _, err := time.Parse(time.DateOnly, m[1]); err == nil {
			return selection{date: m[1]}, true
		}
	}
	return selection{}, false
}

// maskEmail keeps the first character of the local part and the domain.
func maskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	r := []rune(local)
	return string(r[0]) + "***@" + domain
}

package script

import (
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Rule names a validation predicate.
type Rule string

const (
	RuleRequired Rule = "required"
	RulePhone    Rule = "phone"
	RuleEmail    Rule = "email"
	RuleChoice   Rule = "choice"
	RuleIFSC     Rule = "ifsc"
	RuleDigits   Rule = "digits"
	RuleDate     Rule = "date"
)

// DateLayout is the canonical form stored for date answers.
const DateLayout = "2006-01-02"

var (
	ifscPattern = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)

	flexibleDateLayouts = []string{
		"2006-01-02",
		"2006-1-2",
		"02.01.2006",
		"2.1.2006",
		"02/01/2006",
		"2/1/2006",
	}
)

func (r Rule) known() bool {
	switch r {
	case RuleRequired, RulePhone, RuleEmail, RuleChoice, RuleIFSC, RuleDigits, RuleDate:
		return true
	}
	return false
}

// check returns the canonical value for text, which is already trimmed.
func (r Rule) check(text string, choices []string) (string, bool) {
	if text == "" {
		return "", false
	}
	switch r {
	case RulePhone:
		return text, len(Digits(text)) >= 7
	case RuleEmail:
		local, domain, ok := strings.Cut(text, "@")
		return text, ok && local != "" && domain != "" && !strings.ContainsAny(text, " \t")
	case RuleChoice:
		for _, c := range choices {
			if strings.EqualFold(text, c) {
				return c, true
			}
		}
		return "", false
	case RuleIFSC:
		up := strings.ToUpper(text)
		return up, ifscPattern.MatchString(up)
	case RuleDigits:
		compact := strings.ReplaceAll(text, " ", "")
		d := Digits(compact)
		return d, len(d) == len(compact) && len(d) >= 6 && len(d) <= 20
	case RuleDate:
		t, ok := ParseDate(text)
		if !ok {
			return "", false
		}
		return t.Format(DateLayout), true
	default:
		return text, true
	}
}

func (r Rule) message(choices []string) string {
	switch r {
	case RulePhone:
		return "Invalid phone number. Please send digits (e.g. 9876543210)."
	case RuleEmail:
		return "Please send a valid email address."
	case RuleChoice:
		return "Please choose one of: " + strings.Join(choices, ", ") + "."
	case RuleIFSC:
		return "Invalid IFSC code. It should look like HDFC0001234."
	case RuleDigits:
		return "Please send digits only (6 to 20 of them)."
	case RuleDate:
		return "Please send a date like 2024-05-31 or 31.05.2024."
	default:
		return "This answer cannot be empty."
	}
}

// Digits keeps only the decimal digits of s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) && r < unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseDate accepts the common day/month/year spellings users type.
func ParseDate(input string) (time.Time, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range flexibleDateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

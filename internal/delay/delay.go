// internal/delay/delay.go
package delay

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	maxInputLen = 30
	maxHours    = 99
	maxMinutes  = 59
)

// Parsed is the successful outcome of parsing a free-form delay text.
// Minutes is the only value scheduling consumes; Label is a canonical
// human-readable form for display ("9 horas", "2h 30min").
type Parsed struct {
	Raw     string `json:"raw"`
	Label   string `json:"label"`
	Minutes int    `json:"minutes"`
}

type ErrorCode string

const (
	CodeEmpty         ErrorCode = "EMPTY"
	CodeTooLong       ErrorCode = "TOO_LONG"
	CodeInvalidFormat ErrorCode = "INVALID_FORMAT"
	CodeOutOfRange    ErrorCode = "OUT_OF_RANGE"
	CodeInvalidMinute ErrorCode = "INVALID_MINUTE"
	CodeZero          ErrorCode = "ZERO"
)

// ParseError is the structured failure outcome. It is surfaced to the
// configuration UI and never panics out of Parse.
type ParseError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Raw     string    `json:"raw"`
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("delay %q: %s (%s)", e.Raw, e.Message, e.Code)
}

// Numeric captures are unbounded so oversized values ("1000h") report
// OUT_OF_RANGE instead of falling through to INVALID_FORMAT.
var (
	reHours    = regexp.MustCompile(`^(\d+)h$`)
	reMinutes  = regexp.MustCompile(`^(\d+)(?:m|min|minutes|minutos|minuto)$`)
	reCombined = regexp.MustCompile(`^(\d+)(?:h|:)(\d{1,2})(?:m|min)?$`)
	reBare     = regexp.MustCompile(`^(\d+)$`)
)

// Trailing words meaning "after the trigger"; stripped before matching.
var suffixes = []string{"depois", "após", "apos", "after", "later"}

// Parse converts a human-entered delay text into a minute offset.
// Matching is case-insensitive; grammars are tried in precedence order:
// "<N>h", "<N>min", "<N>h<M>" / "<N>:<M>", bare "<N>" (hours).
func Parse(text string) (*Parsed, *ParseError) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil, &ParseError{CodeEmpty, "delay text is empty", raw}
	}
	if utf8.RuneCountInString(raw) > maxInputLen {
		return nil, &ParseError{CodeTooLong, fmt.Sprintf("delay text longer than %d characters", maxInputLen), raw}
	}

	norm := strings.ToLower(raw)
	for _, suf := range suffixes {
		if strings.HasSuffix(norm, suf) {
			norm = strings.TrimSpace(strings.TrimSuffix(norm, suf))
			break
		}
	}
	norm = strings.ReplaceAll(norm, " ", "")

	if m := reHours.FindStringSubmatch(norm); m != nil {
		return buildHours(raw, parseNum(m[1]))
	}
	if m := reMinutes.FindStringSubmatch(norm); m != nil {
		min := parseNum(m[1])
		if min == 0 {
			return nil, zeroErr(raw)
		}
		if min > maxMinutes {
			return nil, &ParseError{CodeInvalidMinute, fmt.Sprintf("minutes must be at most %d", maxMinutes), raw}
		}
		return &Parsed{Raw: raw, Label: minutesLabel(min), Minutes: min}, nil
	}
	if m := reCombined.FindStringSubmatch(norm); m != nil {
		h := parseNum(m[1])
		min, _ := strconv.Atoi(m[2])
		if h > maxHours {
			return nil, &ParseError{CodeOutOfRange, fmt.Sprintf("hours must be at most %d", maxHours), raw}
		}
		if min > maxMinutes {
			return nil, &ParseError{CodeInvalidMinute, fmt.Sprintf("minutes must be at most %d", maxMinutes), raw}
		}
		if h == 0 && min == 0 {
			return nil, zeroErr(raw)
		}
		return &Parsed{Raw: raw, Label: combinedLabel(h, min), Minutes: h*60 + min}, nil
	}
	if m := reBare.FindStringSubmatch(norm); m != nil {
		return buildHours(raw, parseNum(m[1]))
	}

	return nil, &ParseError{CodeInvalidFormat, "unrecognized delay format", raw}
}

// parseNum never fails on matched input shorter than the length cap, but a
// digit run beyond int range must still land in the range checks.
func parseNum(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 1 << 30
	}
	return n
}

func buildHours(raw string, h int) (*Parsed, *ParseError) {
	if h == 0 {
		return nil, zeroErr(raw)
	}
	if h > maxHours {
		return nil, &ParseError{CodeOutOfRange, fmt.Sprintf("hours must be at most %d", maxHours), raw}
	}
	return &Parsed{Raw: raw, Label: hoursLabel(h), Minutes: h * 60}, nil
}

func zeroErr(raw string) *ParseError {
	return &ParseError{CodeZero, "delay must be at least one minute", raw}
}

func hoursLabel(h int) string {
	if h == 1 {
		return "1 hora"
	}
	return fmt.Sprintf("%d horas", h)
}

func minutesLabel(min int) string {
	if min == 1 {
		return "1 minuto"
	}
	return fmt.Sprintf("%d minutos", min)
}

func combinedLabel(h, min int) string {
	if min == 0 {
		return hoursLabel(h)
	}
	if h == 0 {
		return minutesLabel(min)
	}
	return fmt.Sprintf("%dh %dmin", h, min)
}

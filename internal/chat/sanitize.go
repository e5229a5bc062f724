package chat

import (
	"regexp"
	"strings"
)

// Agent log lines arrive decorated for a console: pictographs, ANSI
// color codes, severity tags, and "Step N/M" progress prefixes. None
// of that belongs in a chat bubble.
var (
	pictographRe = regexp.MustCompile(`[\x{1F1E6}-\x{1F1FF}\x{1F300}-\x{1FAFF}\x{1F600}-\x{1F64F}\x{1F680}-\x{1F6FF}\x{2600}-\x{26FF}\x{2700}-\x{27BF}\x{FE0E}-\x{FE0F}]`)
	ansiRe       = regexp.MustCompile(`[\x1b\x{9b}][[\]()#;?]*(?:[0-9]{1,4}(?:;[0-9]{0,4})*)?[0-9A-ORZcf-nqry=><]`)
	// Some log transports mangle ESC into U+2190 (leftwards arrow).
	arrowCSIRe   = regexp.MustCompile(`\x{2190}\[[0-9;]*[A-Za-z]`)
	severityRe   = regexp.MustCompile(`(?i)^\s*INFO\s*\[Agent\]\s*`)
	stepPrefixRe = regexp.MustCompile(`(?i)^(?:\s*[>*\-–—•\x{2022}\x{2023}\x{25E6}\x{2043}\x{2219}])?\s*(?:step\s*\d+(?:\s*/\s*\d+)?\s*[:\-.)]?\s*)`)
	bulletRe     = regexp.MustCompile(`(?i)^\s*\(?[0-9]+\)?[.)\-:]\s*`)
)

// SanitizeThinking strips presentation noise from an agent log message
// so it can stand in as provisional reply content.
func SanitizeThinking(text string) string {
	if text == "" {
		return ""
	}
	s := pictographRe.ReplaceAllString(text, "")
	s = ansiRe.ReplaceAllString(s, "")
	s = arrowCSIRe.ReplaceAllString(s, "")
	s = severityRe.ReplaceAllString(s, "")
	s = stepPrefixRe.ReplaceAllString(s, "")
	s = bulletRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

package tools

import (
	"errors"
	"regexp"
	"strings"
)

// controlChars matches newlines and carriage returns, which would let
// one command argument smuggle in a second command.
var controlChars = regexp.MustCompile(`[\r\n]`)

// trailingAskRegexes strip conversational suffixes a planner sometimes
// appends to an otherwise valid command line ("... ls -la tell me the
// result"), per the run_cmd normalization rule.
var trailingAskRegexes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\s*(?:,|and)?\s*(?:please\s+)?tell me the result\.?\s*$`),
	regexp.MustCompile(`(?i)\s*(?:,|and)?\s*(?:please\s+)?show me (?:the )?(?:output|result)\.?\s*$`),
	regexp.MustCompile(`(?i)\s*(?:,|and)?\s*let me know (?:what happens|the result)\.?\s*$`),
}

var (
	errEmptyCommand   = errors.New("command is empty")
	errNullByte       = errors.New("command contains a null byte")
	errControlChar    = errors.New("command contains control characters")
	errCommandTooLong = errors.New("command exceeds max_cmd_length")
)

// normalizeCommand strips known conversational suffixes and trims
// whitespace before validation, matching the spec's "suffixes like
// 'tell me the result' stripped" rule for run_cmd.
func normalizeCommand(cmd string) string {
	out := strings.TrimSpace(cmd)
	for _, re := range trailingAskRegexes {
		out = re.ReplaceAllString(out, "")
	}
	return strings.TrimSpace(out)
}

// validateCommand rejects a command line that contains control
// characters, null bytes, or exceeds the configured length cap. Shell
// metacharacters are intentionally allowed here: run_cmd executes via
// a shell (sh -c) so pipes and redirection are part of its contract,
// unlike a bare executable name which must never see them.
func validateCommand(cmd string, maxLen int) error {
	if cmd == "" {
		return errEmptyCommand
	}
	if strings.Contains(cmd, "\x00") {
		return errNullByte
	}
	if controlChars.MatchString(cmd) {
		return errControlChar
	}
	if maxLen > 0 && len(cmd) > maxLen {
		return errCommandTooLong
	}
	return nil
}

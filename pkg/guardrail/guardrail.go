// Package guardrail sanitises tool output before it reaches an agent's
// conversational context or gets persisted/logged: SanitiseErrorOutput
// strips file paths, stack traces, module names, process IDs, and
// environment details from error-shaped text, ported from
// original_source/.../guardrail_sanitiser.py. Sanitiser layers secret
// masking (named regex patterns plus the Kubernetes Secret structural
// masker) and HTML/script stripping on top, configured from
// config.GuardrailConfig, for callers handling arbitrary tool output or
// request/response bodies rather than known-shaped error text.
package guardrail

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/samotage/claude-headspace-sub003/pkg/config"
)

const redactionSentinel = "[details redacted]"

var errorIndicators = []string{
	"traceback (most recent call last)",
	"error:",
	"exception:",
	"failed",
	"fatal:",
	"panic:",
}

// absolutePath matches /foo/bar/baz.py style paths not preceded by an
// alphanumeric character. RE2 has no lookbehind, so the preceding
// character (or start-of-string) is captured in group 1 and re-emitted.
var absolutePath = regexp.MustCompile(`(^|[^a-zA-Z0-9])(/(?:[a-zA-Z0-9._-]+/)+[a-zA-Z0-9._-]+)`)

// tracebackFrame matches a single "File "...", line N, in func" frame line.
var tracebackFrame = regexp.MustCompile(`(?m)^\s*File\s+"[^"]+",\s+line\s+\d+.*$`)

// moduleError matches dotted names like module.submodule.ClassName
// immediately followed by ':', ')' or whitespace. RE2 has no lookahead, so
// the trailing character is captured in group 2 and re-emitted.
var moduleError = regexp.MustCompile(`\b((?:[a-zA-Z_]\w*\.){2,}[a-zA-Z_]\w*)([:)\s])`)

var venvPath = regexp.MustCompile(`(?:venv|\.venv|virtualenv|site-packages|dist-packages)(?:/[a-zA-Z0-9._-]+)*`)

var processID = regexp.MustCompile(`(?i)\b(?:pid[=:]\s*\d+|process\s+\d+)\b`)

var pythonVersion = regexp.MustCompile(`(?i)\bpython\s*3\.\d+(?:\.\d+)?\b`)

var envVar = regexp.MustCompile(`\b[A-Z][A-Z0-9_]{3,}(?:=\S+|:\s+\S+)`)

var consecutiveRedactions = regexp.MustCompile(`(?:\[details redacted\]\s*){2,}`)

var multiBlankLine = regexp.MustCompile(`\n\s*\n\s*\n`)

// SanitiseErrorOutput strips system-revealing detail from raw error output,
// leaving a generic failure indication an agent can acknowledge and retry
// against. Empty input is returned unchanged.
func SanitiseErrorOutput(text string) string {
	if text == "" {
		return text
	}

	result := stripTracebackBlocks(text)
	result = tracebackFrame.ReplaceAllString(result, redactionSentinel)
	result = moduleError.ReplaceAllString(result, redactionSentinel+"$2")
	result = absolutePath.ReplaceAllString(result, "$1"+redactionSentinel)
	result = venvPath.ReplaceAllString(result, redactionSentinel)
	result = processID.ReplaceAllString(result, redactionSentinel)
	result = pythonVersion.ReplaceAllString(result, redactionSentinel)
	result = envVar.ReplaceAllString(result, redactionSentinel)

	result = consecutiveRedactions.ReplaceAllString(result, redactionSentinel+" ")
	result = multiBlankLine.ReplaceAllString(result, "\n\n")

	return strings.TrimSpace(result)
}

// stripTracebackBlocks collapses a "Traceback (most recent call last):"
// line plus every indented frame line and the final "ExceptionType:
// message" line that follows it into one redaction sentinel. RE2 cannot
// express the original lookahead-bounded regex, so this walks lines
// directly: the block ends at the first blank line or end of input.
func stripTracebackBlocks(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))

	for i := 0; i < len(lines); i++ {
		if !strings.Contains(lines[i], "Traceback (most recent call last):") {
			out = append(out, lines[i])
			continue
		}

		out = append(out, redactionSentinel)
		i++
		for i < len(lines) && strings.HasPrefix(lines[i], " ") {
			i++
		}
		if i < len(lines) && lines[i] != "" {
			i++ // the final "ExceptionType: message" line
		}
		i-- // offset the loop's i++
	}
	return strings.Join(out, "\n")
}

// ContainsErrorPatterns reports whether text looks like error output,
// gating whether SanitiseErrorOutput should be applied at all — ordinary
// agent output is never sanitised, to avoid false-positive redaction.
func ContainsErrorPatterns(text string) bool {
	if text == "" {
		return false
	}

	lower := strings.ToLower(text)
	for _, indicator := range errorIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}

	if absolutePath.MatchString(text) && (strings.Contains(lower, "error") || strings.Contains(lower, "failed")) {
		return true
	}
	return false
}

// Sanitiser is the configured sanitisation pipeline applied to content of
// unknown shape — a request/response body, a turn's raw tool output —
// rather than text already known to be an error. It is built once from
// config.GuardrailConfig and reused across requests.
type Sanitiser struct {
	html     *bluemonday.Policy
	patterns resolvedSecretPatterns
}

// NewSanitiser builds a Sanitiser from cfg. The HTML policy strips all
// markup rather than allowing a safelist through: nothing in this domain
// renders sanitised text as HTML, so there is no tag an operator would want
// preserved, only ones that could otherwise leak a script tag into a log
// viewer or dashboard panel that does render it.
func NewSanitiser(cfg config.GuardrailConfig) *Sanitiser {
	return &Sanitiser{
		html:     bluemonday.StrictPolicy(),
		patterns: resolveSecretPatterns(cfg),
	}
}

// Sanitise strips HTML/script markup, masks configured secret patterns,
// and redacts error-shaped detail, in that order — HTML first so a
// secret hidden inside a tag's attribute isn't missed, error redaction
// last since it operates on the plain text the earlier stages produced.
func (s *Sanitiser) Sanitise(text string) string {
	if text == "" {
		return text
	}
	text = s.html.Sanitize(text)
	text = s.patterns.apply(text)
	if ContainsErrorPatterns(text) {
		text = SanitiseErrorOutput(text)
	}
	return text
}

// MaskSecrets applies only the configured secret patterns, without HTML
// stripping or error redaction — for callers that already know their
// input is plain text from a non-browser source (a JSONL transcript line).
func (s *Sanitiser) MaskSecrets(text string) string {
	if text == "" {
		return text
	}
	return s.patterns.apply(text)
}

package guardrail

import (
	"regexp"

	"github.com/samotage/claude-headspace-sub003/pkg/config"
)

// compiledPattern holds a pre-compiled regex pattern with its replacement.
type compiledPattern struct {
	regex       *regexp.Regexp
	replacement string
}

// secretMasker is a code-based masker for structural content a plain regex
// can't safely parse (a YAML/JSON document), invoked when its AppliesTo
// lightweight check matches. It mirrors the regex patterns' "detect, then
// rewrite" shape without pretending a single substitution covers a whole
// document.
type secretMasker interface {
	Name() string
	AppliesTo(data string) bool
	Mask(data string) string
}

// builtinPatterns are the named regex patterns available to
// guardrail.pattern_groups / guardrail.patterns. Kept narrow to the secrets
// an agent's tool output plausibly contains in this domain — kubeconfig and
// cloud credentials pasted into a terminal, tokens echoed back by a CLI —
// rather than the full breadth of a general-purpose masking product.
var builtinPatterns = map[string]compiledPattern{
	"api_key": {
		regex:       regexp.MustCompile(`(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`),
		replacement: `"api_key": "[MASKED_API_KEY]"`,
	},
	"password": {
		regex:       regexp.MustCompile(`(?i)(?:password|pwd|pass)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`),
		replacement: `"password": "[MASKED_PASSWORD]"`,
	},
	"token": {
		regex:       regexp.MustCompile(`(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-.]{20,})["']?`),
		replacement: `"token": "[MASKED_TOKEN]"`,
	},
	"certificate": {
		regex:       regexp.MustCompile(`(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`),
		replacement: `[MASKED_CERTIFICATE]`,
	},
	"certificate_authority_data": {
		regex:       regexp.MustCompile(`(?i)certificate-authority-data:\s*([A-Za-z0-9+/]{20,}={0,2})`),
		replacement: `certificate-authority-data: [MASKED_CA_CERTIFICATE]`,
	},
	"ssh_key": {
		regex:       regexp.MustCompile(`ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`),
		replacement: `[MASKED_SSH_KEY]`,
	},
	"private_key": {
		regex:       regexp.MustCompile(`(?i)(?:private[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-.]{20,})["']?`),
		replacement: `"private_key": "[MASKED_PRIVATE_KEY]"`,
	},
	"aws_access_key": {
		regex:       regexp.MustCompile(`(?i)(?:aws[_-]?access[_-]?key[_-]?id)["']?\s*[:=]\s*["']?(AKIA[A-Z0-9]{16})["']?`),
		replacement: `"aws_access_key_id": "[MASKED_AWS_KEY]"`,
	},
	"email": {
		regex:       regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`),
		replacement: `[MASKED_EMAIL]`,
	},
}

// builtinGroups name sets of builtinPatterns for guardrail.pattern_groups.
// "kubernetes" also pulls in the kubernetesSecretMasker code masker.
var builtinGroups = map[string][]string{
	"basic":      {"api_key", "password"},
	"secrets":    {"api_key", "password", "token", "private_key"},
	"security":   {"api_key", "password", "token", "certificate", "certificate_authority_data", "email", "ssh_key"},
	"kubernetes": {"kubernetes_secret", "api_key", "password", "certificate_authority_data"},
	"cloud":      {"aws_access_key", "api_key", "token"},
}

// resolvedSecretPatterns is the expansion of configured pattern groups plus
// explicit pattern/custom-pattern names into concrete matchers, computed
// once at Sanitiser construction since the config driving it doesn't change
// at runtime.
type resolvedSecretPatterns struct {
	maskers  []secretMasker
	patterns []compiledPattern
}

func resolveSecretPatterns(cfg config.GuardrailConfig) resolvedSecretPatterns {
	seen := make(map[string]bool)
	var resolved resolvedSecretPatterns

	add := func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		if name == "kubernetes_secret" {
			resolved.maskers = append(resolved.maskers, kubernetesSecretMasker{})
			return
		}
		if p, ok := builtinPatterns[name]; ok {
			resolved.patterns = append(resolved.patterns, p)
		}
	}

	for _, group := range cfg.PatternGroups {
		for _, name := range builtinGroups[group] {
			add(name)
		}
	}
	for _, name := range cfg.Patterns {
		add(name)
	}
	for _, custom := range cfg.CustomPatterns {
		regex, err := regexp.Compile(custom.Pattern)
		if err != nil {
			continue // invalid custom pattern: skip rather than fail sanitisation
		}
		resolved.patterns = append(resolved.patterns, compiledPattern{regex: regex, replacement: custom.Replacement})
	}

	return resolved
}

// apply runs every code masker whose AppliesTo check matches, then every
// regex pattern, over text.
func (r resolvedSecretPatterns) apply(text string) string {
	for _, m := range r.maskers {
		if m.AppliesTo(text) {
			text = m.Mask(text)
		}
	}
	for _, p := range r.patterns {
		text = p.regex.ReplaceAllString(text, p.replacement)
	}
	return text
}

// internal/security/patterns.go
package security

import "regexp"

// classifiedPattern pairs a compiled pattern with the attack or leak type it
// identifies. The type, never the matched text, is what gets reported.
type classifiedPattern struct {
	re   *regexp.Regexp
	kind string
}

func mustCompile(patterns [][2]string) []classifiedPattern {
	compiled := make([]classifiedPattern, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, classifiedPattern{
			re:   regexp.MustCompile(`(?im)` + p[0]),
			kind: p[1],
		})
	}
	return compiled
}

// injectionPatterns are checked against normalized input. Any match rejects
// the input outright.
var injectionPatterns = mustCompile([][2]string{
	// Role manipulation
	{`(system|assistant|user|human|ai)\s*:`, "role manipulation"},

	// Instruction override (leet-speak variants included)
	{`ign[o0]r[e3]\s*(previous|above|earlier|prior)`, "instruction override"},
	{`f[o0]rg[e3]t\s*(previous|above|earlier|prior)`, "instruction override"},
	{`disregard\s*(previous|above|earlier|prior|everything)`, "instruction override"},
	{`overr?ide\s*(previous|instructions?|rules?)`, "instruction override"},

	// Identity hijacking
	{`(you\s*are\s*now|your\s*role\s*is|act\s*as|pretend\s*to\s*be)`, "identity hijacking"},
	{`(become|transform\s*into)\s*(a|an)\s*\w+`, "identity hijacking"},

	// System probes
	{`(what|tell|show|list|display)\s*(are|me)?\s*(your|the)?\s*(system\s*)?(instruction|prompt|rule|tool|function|command)`, "system probe"},
	{`repeat\s*(everything|all|your\s*instructions?)`, "system probe"},
	{`output\s*(everything|all|your\s*prompt)`, "system probe"},

	// Command injection
	{`(execute|run|eval|exec)\s*[:=\(]`, "command injection"},
	{`rm\s+-rf`, "command injection"},

	// Context breaking and delimiters
	{`\n\s*\n\s*\n`, "context breaking"},
	{`---+\s*\n`, "delimiter injection"},
	{`(</prompt>|</system>|</instruction>)`, "xml injection"},

	// Template and special tokens
	{`[\[\{]{2,}|[\]\}]{2,}`, "template injection"},
	{`\[/?inst\]|<\|.*?\|>`, "special token injection"},

	// Analytics-specific bypasses
	{`(bypass|skip|ignore)\s*(filter|validation|check|security)`, "security bypass"},
	{`show\s*all\s*(data|records|requests)`, "data extraction attempt"},
	{`(internal|hidden|secret|private)\s*(data|info|key)`, "information disclosure"},

	// Encoding and obfuscation
	{`%0[aA]|\\n\\n|\\r\\n\\r\\n`, "newline encoding"},
	{`base64|atob|btoa`, "encoding attempt"},
})

// suspiciousPatterns might be legitimate in an analytics context, so they are
// logged but do not reject the input.
var suspiciousPatterns = mustCompile([][2]string{
	{`<script[^>]*>`, "script tag"},
	{`javascript:`, "javascript protocol"},
	{`data:text/html`, "data uri"},
	{`\\x[0-9a-fA-F]{2}`, "hex encoding"},
	{`%[0-9a-fA-F]{2}`, "url encoding"},
	{`<iframe`, "iframe tag"},
	{`onerror\s*=`, "event handler"},
	{`eval\s*\(`, "eval function"},
})

// leakagePatterns are checked against model responses. A match means the
// response disclosed template or internal detail and must be discarded.
var leakagePatterns = mustCompile([][2]string{
	// Template instruction fragments
	{`system\s*(instruction|prompt|rule)`, "system instruction disclosure"},
	{`you\s*are\s*an?\s*(expert|analytics|tool)`, "role disclosure"},
	{`your\s*(job|task|role)\s*is\s*to`, "task disclosure"},
	{`(internal|private)\s*(function|method|tool)`, "internal detail disclosure"},
	{`available\s*(actions?|tools?|functions?)`, "action catalog disclosure"},
	{`planning\s*rules?`, "planning rule disclosure"},
	{`critical\s*=\s*(true|false)`, "internal flag disclosure"},

	// Internal identifiers
	{`(query_analytics|compare_results|render_chart)`, "action name disclosure"},
	{`generate_\w+_report`, "internal tool name"},
	{`get_\w+_service`, "internal service name"},

	// Infrastructure details
	{`(elasticsearch|database)\s*(index|table|query)`, "database details"},

	// Credentials and configuration
	{`(jwt_|bearer_token|auth_token|session_token)`, "token leak"},
	{`(aws_secret|secret_key|private_key|api_secret)`, "secret leak"},
	{`(api_key\s*[:=]|access_key\s*[:=])`, "api key leak"},
	{`\.env\s*(file|variable)|ENV_\w+\s*=`, "environment variable leak"},
})

// residualControlChars catches control characters that survived stripping.
var residualControlChars = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f]")

// excessiveNewlines collapses 3+ consecutive newlines to 2.
var excessiveNewlines = regexp.MustCompile(`\n{3,}`)

// identifierChars is the residual whitelist for identifier-kind fields
// (domain names, file names).
var identifierChars = regexp.MustCompile(`^[a-zA-Z0-9._\- /]+$`)

// datePattern is the residual whitelist for date-kind fields.
var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// sectionIDChars strips everything a section marker may not contain.
var sectionIDChars = regexp.MustCompile(`[^A-Z0-9_]`)

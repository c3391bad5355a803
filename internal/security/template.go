// internal/security/template.go
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	apperrors "analytics-agent/internal/common/errors"
	"analytics-agent/internal/common/logger"
)

// Template is an immutable system-prompt template. Text is pinned by a
// sha256 hash recorded at authoring time; any mismatch at load or use is a
// fatal integrity violation.
type Template struct {
	Name          string
	Version       string
	Text          string
	IntegrityHash string
}

// verify recomputes the hash and compares it with the pinned value.
func (t Template) verify() error {
	if t.Text == "" {
		return apperrors.NewIntegrityViolationError(t.Name, t.IntegrityHash, "(empty)")
	}
	current := sha256Hex(t.Text)
	if current != t.IntegrityHash {
		return apperrors.NewIntegrityViolationError(t.Name, t.IntegrityHash, current)
	}
	return nil
}

// Render substitutes {{key}} placeholders with the given values. Values must
// already be sanitized; Render does no sanitization of its own. Unresolved
// placeholders are an error so a template never reaches the model half-built.
func (t Template) Render(vars map[string]string) (string, error) {
	if err := t.verify(); err != nil {
		return "", err
	}

	text := t.Text
	for key, value := range vars {
		text = strings.ReplaceAll(text, "{{"+key+"}}", value)
	}

	if idx := strings.Index(text, "{{"); idx >= 0 {
		end := strings.Index(text[idx:], "}}")
		placeholder := text[idx:]
		if end >= 0 {
			placeholder = text[idx : idx+end+2]
		}
		return "", fmt.Errorf("template %s: unresolved placeholder %s", t.Name, placeholder)
	}

	// Disclosure-prevention rules go at the end, where model attention is
	// strongest.
	return text + "\n\n" + leakagePreventionRules, nil
}

// Registry holds the verified template table. Templates are registered once
// at startup; publishing a new prompt means adding a new version entry, never
// editing an existing one.
type Registry struct {
	templates map[string]Template
	log       logger.Logger
}

// NewRegistry verifies every built-in template and fails fast on the first
// hash mismatch.
func NewRegistry(log logger.Logger) (*Registry, error) {
	r := &Registry{
		templates: make(map[string]Template, len(builtinTemplates)),
		log:       log,
	}
	for _, tpl := range builtinTemplates {
		if err := tpl.verify(); err != nil {
			log.WithError(err).Error("Template failed integrity verification", map[string]interface{}{
				"template": tpl.Name,
				"version":  tpl.Version,
			})
			return nil, err
		}
		r.templates[tpl.Name] = tpl
		log.Debug("Template verified", map[string]interface{}{
			"template": tpl.Name,
			"version":  tpl.Version,
		})
	}
	return r, nil
}

// Get returns a verified template. Integrity is re-checked on every call so
// runtime corruption is caught before use, not just at startup.
func (r *Registry) Get(name string) (Template, error) {
	tpl, ok := r.templates[name]
	if !ok {
		return Template{}, fmt.Errorf("unknown template %q", name)
	}
	if err := tpl.verify(); err != nil {
		return Template{}, err
	}
	return tpl, nil
}

// BuildUserSection wraps already-sanitized content in reserved section
// markers so user text is structurally isolated from instructions. The
// section ID is restricted to [A-Z0-9_]; content must come out of
// Sanitizer.Sanitize, never straight from the request.
func BuildUserSection(sectionID, sanitized string) (string, error) {
	safeID := sectionIDChars.ReplaceAllString(strings.ToUpper(sectionID), "")
	if safeID == "" {
		return "", fmt.Errorf("section id must contain characters in [A-Z0-9_]")
	}
	return fmt.Sprintf("<%s>\n%s\n</%s>", safeID, sanitized, safeID), nil
}

func sha256Hex(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

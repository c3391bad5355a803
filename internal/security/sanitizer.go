// internal/security/sanitizer.go
package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"analytics-agent/internal/common/audit"
	apperrors "analytics-agent/internal/common/errors"
	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/common/metrics"

	"golang.org/x/text/unicode/norm"
)

// Sanitizer layer names, in execution order.
const (
	LayerLength    = "length"
	LayerUnicode   = "unicode"
	LayerControl   = "control_chars"
	LayerNewlines  = "newlines"
	LayerInjection = "injection"
	LayerHeuristic = "heuristics"
	LayerResidual  = "residual"
)

// FieldKind selects the residual character whitelist applied in the final
// layer. Identifiers and dates get a much tighter charset than free text.
type FieldKind int

const (
	FieldFreeText FieldKind = iota
	FieldIdentifier
	FieldDate
)

func (k FieldKind) String() string {
	switch k {
	case FieldIdentifier:
		return "identifier"
	case FieldDate:
		return "date"
	default:
		return "free_text"
	}
}

// Sanitizer runs untrusted text through a fixed multi-layer pipeline before
// it may touch a prompt. The first failing layer rejects the input; there is
// no partial acceptance.
type Sanitizer struct {
	maxInputLength int
	log            logger.Logger
	sink           audit.Sink
}

func NewSanitizer(maxInputLength int, log logger.Logger, sink audit.Sink) *Sanitizer {
	if maxInputLength <= 0 {
		maxInputLength = 4000
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Sanitizer{
		maxInputLength: maxInputLength,
		log:            log,
		sink:           sink,
	}
}

// Sanitize validates and normalizes raw input. On success it returns the
// normalized text; on failure it returns a SECURITY_VIOLATION error naming
// the layer that rejected it. Layer order matters: normalization runs before
// pattern matching so homoglyphs and formatting cannot dodge the patterns.
func (s *Sanitizer) Sanitize(ctx context.Context, sessionID, raw string, kind FieldKind) (string, error) {
	fingerprint := Fingerprint(raw)

	// Layer 1: length bound
	if len(raw) > s.maxInputLength {
		return "", s.reject(ctx, sessionID, fingerprint, LayerLength,
			fmt.Sprintf("input length %d exceeds maximum %d", len(raw), s.maxInputLength))
	}

	// Layer 2: NFKC normalization folds homoglyphs to canonical form
	text := norm.NFKC.String(raw)

	// Layer 3: strip null bytes and control characters except \n \r \t
	text = stripControlChars(text)

	// Layer 4: collapse excessive newlines before pattern matching, so
	// legitimate paragraph breaks don't trip the context-breaking pattern
	text = excessiveNewlines.ReplaceAllString(text, "\n\n")

	// Layer 5: injection pattern scan
	for _, p := range injectionPatterns {
		if p.re.MatchString(text) {
			return "", s.reject(ctx, sessionID, fingerprint, LayerInjection, p.kind)
		}
	}

	// Layer 6: suspicious heuristics are logged, not blocked; they can be
	// legitimate in analytics text (URL-encoded file names and the like)
	for _, p := range suspiciousPatterns {
		if p.re.MatchString(text) {
			s.log.Warn("Suspicious pattern in input", map[string]interface{}{
				"kind":        p.kind,
				"fingerprint": fingerprint,
			})
		}
	}

	// Layer 7: residual validation
	if residualControlChars.MatchString(text) {
		return "", s.reject(ctx, sessionID, fingerprint, LayerResidual, "control characters survived sanitization")
	}

	text = strings.TrimSpace(text)

	switch kind {
	case FieldIdentifier:
		if text != "" && !identifierChars.MatchString(text) {
			return "", s.reject(ctx, sessionID, fingerprint, LayerResidual, "identifier contains disallowed characters")
		}
	case FieldDate:
		if text != "" && !datePattern.MatchString(text) {
			return "", s.reject(ctx, sessionID, fingerprint, LayerResidual, "date must be YYYY-MM-DD")
		}
	}

	if len(text) != len(raw) {
		s.log.Debug("Sanitization modified input", map[string]interface{}{
			"originalLength":  len(raw),
			"sanitizedLength": len(text),
		})
	}

	s.sink.Record(ctx, audit.Event{
		EventType: "sanitize_accepted",
		SessionID: sessionID,
		Detail:    kind.String(),
		InputHash: fingerprint,
	})

	return text, nil
}

func (s *Sanitizer) reject(ctx context.Context, sessionID, fingerprint, layer, reason string) error {
	s.log.Warn("Input rejected by sanitizer", map[string]interface{}{
		"layer":       layer,
		"reason":      reason,
		"fingerprint": fingerprint,
	})
	metrics.SanitizerRejections.WithLabelValues(layer).Inc()
	s.sink.Record(ctx, audit.Event{
		EventType: "sanitize_rejected",
		SessionID: sessionID,
		Layer:     layer,
		Detail:    reason,
		InputHash: fingerprint,
	})
	return apperrors.NewSecurityViolationError(layer, reason)
}

func stripControlChars(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r >= 32 || r == '\n' || r == '\r' || r == '\t' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Fingerprint returns a short sha256 prefix safe for logs and audit events.
// Raw input content never leaves the process through these paths.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:12]
}

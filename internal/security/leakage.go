// internal/security/leakage.go
package security

import (
	"context"

	"analytics-agent/internal/common/audit"
	"analytics-agent/internal/common/logger"
	"analytics-agent/internal/common/metrics"
)

// LeakageScanner checks model responses for template-instruction fragments
// and internal identifiers. It is the reactive line of defense behind the
// prevention rules embedded in every prompt; a positive match means the
// response must be discarded, never repaired.
type LeakageScanner struct {
	log  logger.Logger
	sink audit.Sink
}

func NewLeakageScanner(log logger.Logger, sink audit.Sink) *LeakageScanner {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &LeakageScanner{log: log, sink: sink}
}

// Detect returns the leak type and true when the response discloses internal
// detail. The response text itself never reaches the logs.
func (s *LeakageScanner) Detect(ctx context.Context, sessionID, response string) (string, bool) {
	for _, p := range leakagePatterns {
		if p.re.MatchString(response) {
			s.log.Error("Leakage detected in model response", map[string]interface{}{
				"leakType":    p.kind,
				"fingerprint": Fingerprint(response),
			})
			metrics.LeakageDetections.WithLabelValues(p.kind).Inc()
			s.sink.Record(ctx, audit.Event{
				EventType: "leakage_detected",
				SessionID: sessionID,
				Detail:    p.kind,
				InputHash: Fingerprint(response),
			})
			return p.kind, true
		}
	}
	return "", false
}

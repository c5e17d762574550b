package recovery

import (
	"context"
	"errors"
	"strings"

	"github.com/aretw0/chatflow/pkg/domain"
)

// ErrorType is the closed classification taxonomy for runtime faults.
type ErrorType string

const (
	TypeValidation       ErrorType = "validation"
	TypeNotFound         ErrorType = "not-found"
	TypePermission       ErrorType = "permission"
	TypeSessionExpired   ErrorType = "session-expired"
	TypeContextCorrupted ErrorType = "context-corrupted"
	TypeTimeout          ErrorType = "timeout"
	TypeTransport        ErrorType = "transport"
	TypeBusinessRule     ErrorType = "business-rule"
	TypeCriticalData     ErrorType = "critical-data"
	TypeUnknown          ErrorType = "unknown"
)

// Severity ranks how bad a fault is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Classification is the recovery subsystem's view of one fault.
type Classification struct {
	Type     ErrorType
	Severity Severity

	// AffectsCriticalData flags any fault that touches the lead bag.
	// Such faults are escalated to at least high severity regardless of
	// their base classification.
	AffectsCriticalData bool

	// Retryable faults get retried with backoff before any rollback.
	Retryable bool

	Message string
}

var criticalDataFragments = []string{"lead", "phone", "email", "telefono", "correo", "critical"}

// Classify assigns a fault its type, severity, and flags.
func Classify(err error) Classification {
	c := classifyBase(err)
	c.Message = err.Error()

	lower := strings.ToLower(c.Message)
	if c.Type == TypeCriticalData {
		c.AffectsCriticalData = true
	} else {
		for _, fragment := range criticalDataFragments {
			if strings.Contains(lower, fragment) {
				c.AffectsCriticalData = true
				break
			}
		}
	}
	if c.AffectsCriticalData && severityRank[c.Severity] < severityRank[SeverityHigh] {
		c.Severity = SeverityHigh
	}
	return c
}

func classifyBase(err error) Classification {
	var gerr *domain.GraphError
	if errors.As(err, &gerr) {
		return Classification{Type: TypeValidation, Severity: SeverityMedium}
	}

	var hookFault *domain.HookFault
	if errors.As(err, &hookFault) {
		return Classification{Type: TypeTransport, Severity: SeverityLow, Retryable: true}
	}

	switch {
	case errors.Is(err, domain.ErrSessionExpired):
		return Classification{Type: TypeSessionExpired, Severity: SeverityMedium}
	case errors.Is(err, domain.ErrSessionNotFound):
		return Classification{Type: TypeNotFound, Severity: SeverityMedium}
	case errors.Is(err, domain.ErrNodeNotInPlan):
		return Classification{Type: TypeContextCorrupted, Severity: SeverityHigh}
	case errors.Is(err, domain.ErrStaleSession):
		return Classification{Type: TypeContextCorrupted, Severity: SeverityMedium}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Classification{Type: TypeTimeout, Severity: SeverityMedium, Retryable: true}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return Classification{Type: TypeTimeout, Severity: SeverityMedium, Retryable: true}
	case strings.Contains(lower, "connection"),
		strings.Contains(lower, "refused"),
		strings.Contains(lower, "network"),
		strings.Contains(lower, "broken pipe"),
		strings.Contains(lower, "redis"):
		return Classification{Type: TypeTransport, Severity: SeverityMedium, Retryable: true}
	case strings.Contains(lower, "permission"),
		strings.Contains(lower, "denied"),
		strings.Contains(lower, "unauthorized"):
		return Classification{Type: TypePermission, Severity: SeverityHigh}
	case strings.Contains(lower, "invalid"), strings.Contains(lower, "validation"):
		return Classification{Type: TypeValidation, Severity: SeverityMedium}
	}

	return Classification{Type: TypeUnknown, Severity: SeverityMedium}
}

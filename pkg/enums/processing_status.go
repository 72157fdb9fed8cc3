package enums

import "fmt"

// ProcessingStatus tracks an inbound event through the apply/retry pipeline.
type ProcessingStatus string

const (
	ProcessingReceived     ProcessingStatus = "received"
	ProcessingApplied      ProcessingStatus = "applied"
	ProcessingRetrying     ProcessingStatus = "retrying"
	ProcessingDeadLettered ProcessingStatus = "dead_lettered"
)

var validProcessingStatuses = []ProcessingStatus{
	ProcessingReceived,
	ProcessingApplied,
	ProcessingRetrying,
	ProcessingDeadLettered,
}

// String implements fmt.Stringer.
func (p ProcessingStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known ProcessingStatus.
func (p ProcessingStatus) IsValid() bool {
	for _, candidate := range validProcessingStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProcessingStatus converts raw input into a ProcessingStatus.
func ParseProcessingStatus(value string) (ProcessingStatus, error) {
	for _, candidate := range validProcessingStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid processing status %q", value)
}

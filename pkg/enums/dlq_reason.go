package enums

// DLQReason records why an inbound event was dead-lettered.
type DLQReason string

const (
	DLQReasonMaxAttempts DLQReason = "max_attempts"
	DLQReasonValidation  DLQReason = "validation"
)

var validDLQReasons = []DLQReason{
	DLQReasonMaxAttempts,
	DLQReasonValidation,
}

func (r DLQReason) IsValid() bool {
	for _, candidate := range validDLQReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

package enums

// EventSource records how an inbound event entered the pipeline.
type EventSource string

const (
	SourceWebhook        EventSource = "webhook"
	SourceReconciliation EventSource = "reconciliation"
	SourceReplay         EventSource = "replay"
)

var validEventSources = []EventSource{
	SourceWebhook,
	SourceReconciliation,
	SourceReplay,
}

func (s EventSource) IsValid() bool {
	for _, candidate := range validEventSources {
		if candidate == s {
			return true
		}
	}
	return false
}

package kafka

// Topic definitions for the messaging pipeline
const (
	// Conversation events
	TopicInboundMessages = "conversations.inbound"
	TopicDeferredSends   = "conversations.deferred"

	// Handoff audit trail
	TopicHandoffsCommitted = "handoffs.committed"
	TopicHandoffsRejected  = "handoffs.rejected"

	// Compliance events
	TopicComplianceFlagged = "compliance.flagged"
)

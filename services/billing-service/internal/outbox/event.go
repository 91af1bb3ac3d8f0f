package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Event types emitted by the billing service.
const (
	EventPlanActivated  = "billing.plan.activated.v1"
	EventPlanDowngraded = "billing.plan.downgraded.v1"
	EventEmailSent      = "billing.email.sent.v1"
)

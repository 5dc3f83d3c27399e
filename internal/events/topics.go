package events

const (
	TopicOrderEvents     = "order-events"
	TopicInventoryEvents = "inventory-events"
	TopicPaymentEvents   = "payment-events"
)

// TopicFor returns the topic an event type is published on.
func TopicFor(eventType string) string {
	switch eventType {
	case TypeInventoryReserved, TypeInventoryReservationFailed:
		return TopicInventoryEvents
	case TypePaymentProcessed, TypePaymentFailed:
		return TopicPaymentEvents
	default:
		return TopicOrderEvents
	}
}

// Partition key = order_id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

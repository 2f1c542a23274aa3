package orders

const (
	TopicOrderCreated    = "order.created"
	TopicPaymentApproved = "order.payment.approved"
	TopicOrderExpired    = "order.expired"
)

// Partition key = order_id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

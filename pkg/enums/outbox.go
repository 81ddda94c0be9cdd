package enums

// OutboxEventType names a domain event queued through the outbox.
type OutboxEventType string

const (
	OutboxEventStockAdjusted      OutboxEventType = "stock.adjusted"
	OutboxEventStockReserved      OutboxEventType = "stock.reserved"
	OutboxEventStockReleased      OutboxEventType = "stock.released"
	OutboxEventTransferCreated    OutboxEventType = "transfer.created"
	OutboxEventTransferApproved   OutboxEventType = "transfer.approved"
	OutboxEventTransferPicked     OutboxEventType = "transfer.picked"
	OutboxEventTransferDispatched OutboxEventType = "transfer.dispatched"
	OutboxEventTransferReceived   OutboxEventType = "transfer.received"
	OutboxEventTransferClosed     OutboxEventType = "transfer.closed"
	OutboxEventTransferCanceled   OutboxEventType = "transfer.canceled"
)

func (t OutboxEventType) IsValid() bool {
	switch t {
	case OutboxEventStockAdjusted,
		OutboxEventStockReserved,
		OutboxEventStockReleased,
		OutboxEventTransferCreated,
		OutboxEventTransferApproved,
		OutboxEventTransferPicked,
		OutboxEventTransferDispatched,
		OutboxEventTransferReceived,
		OutboxEventTransferClosed,
		OutboxEventTransferCanceled:
		return true
	}
	return false
}

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	OutboxAggregateStockLevel OutboxAggregateType = "stock_level"
	OutboxAggregateTransfer   OutboxAggregateType = "transfer"
)

func (t OutboxAggregateType) IsValid() bool {
	switch t {
	case OutboxAggregateStockLevel, OutboxAggregateTransfer:
		return true
	}
	return false
}

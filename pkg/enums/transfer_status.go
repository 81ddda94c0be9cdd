package enums

import "fmt"

// TransferStatus tracks the lifecycle of a stock transfer between locations.
type TransferStatus string

const (
	TransferStatusDraft      TransferStatus = "draft"
	TransferStatusRequested  TransferStatus = "requested"
	TransferStatusApproved   TransferStatus = "approved"
	TransferStatusPicking    TransferStatus = "picking"
	TransferStatusDispatched TransferStatus = "dispatched"
	TransferStatusReceived   TransferStatus = "received"
	TransferStatusClosed     TransferStatus = "closed"
	TransferStatusCanceled   TransferStatus = "canceled"
)

func (s TransferStatus) IsValid() bool {
	switch s {
	case TransferStatusDraft,
		TransferStatusRequested,
		TransferStatusApproved,
		TransferStatusPicking,
		TransferStatusDispatched,
		TransferStatusReceived,
		TransferStatusClosed,
		TransferStatusCanceled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s TransferStatus) IsTerminal() bool {
	return s == TransferStatusClosed || s == TransferStatusCanceled
}

func ParseTransferStatus(value string) (TransferStatus, error) {
	status := TransferStatus(value)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid transfer status %q", value)
	}
	return status, nil
}

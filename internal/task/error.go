package task

const (
	ReasonCancelled      = "cancelled"
	ReasonTransferFailed = "transfer_failed"
)

// Error is the failure recorded on a task. A cancelled task carries
// ReasonCancelled; every other adapter failure carries ReasonTransferFailed.
type Error struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Reason
	}
	return e.Reason + ": " + e.Message
}

func Cancelled() *Error {
	return &Error{Reason: ReasonCancelled, Message: "upload cancelled"}
}

func TransferFailed(msg string) *Error {
	if msg == "" {
		msg = "upload failed"
	}
	return &Error{Reason: ReasonTransferFailed, Message: msg}
}

package payment

// CreatePaymentInput describes a checkout to construct at the gateway.
type CreatePaymentInput struct {
	Amount      int
	Description string
	Days        int
	Email       string
	SaveMethod  bool
}

// Checkout is a freshly created gateway payment awaiting user action.
type Checkout struct {
	ExternalID      string
	ConfirmationURL string
}

// ChargeResult is the outcome of a server-initiated charge against a saved
// payment method.
type ChargeResult struct {
	ExternalID string
	Status     string
}

// Notification is one asynchronous status update from the gateway. MethodID
// is set when the gateway saved a reusable payment method for this payment.
type Notification struct {
	ExternalID string
	Status     string
	MethodID   string
}

// Notifier delivers a plain text message to a chat. Implemented by the bot
// transport; kept narrow so payment logic never imports it.
type Notifier interface {
	Notify(chatID int64, text string)
}

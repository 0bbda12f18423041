package domain

// ErrorKind classifies an error for clients. Every error response carries a
// kind so callers can distinguish "nothing happened, retry with a new key"
// from "the key is now fixed to this outcome".
type ErrorKind string

const (
	KindValidation    ErrorKind = "VALIDATION"
	KindNotFound      ErrorKind = "NOT_FOUND"
	KindAuthorization ErrorKind = "AUTHORIZATION"
	KindConflict      ErrorKind = "CONFLICT"
	KindExternal      ErrorKind = "EXTERNAL"
	KindInternal      ErrorKind = "INTERNAL"
)

// ErrorResponse is the canonical error body returned by every service.
type ErrorResponse struct {
	Kind          ErrorKind `json:"kind"`
	Error         string    `json:"error"`
	TransactionID string    `json:"transaction_id,omitempty"`
	WalletID      string    `json:"wallet_id,omitempty"`
}

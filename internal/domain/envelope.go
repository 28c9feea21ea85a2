package domain

// Envelope is the success/error wrapper every REST response uses.
type Envelope struct {
	Success bool   `json:"success"`
	Message any    `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Success wraps a payload.
func Success(msg any) Envelope {
	return Envelope{Success: true, Message: msg}
}

// Failure wraps an error. A nil error still produces a non-empty message.
func Failure(err error) Envelope {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return Envelope{Success: false, Error: msg}
}

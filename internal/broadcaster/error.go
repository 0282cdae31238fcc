package broadcaster

// SendError reports that a payload could not be delivered to one connection.
type SendError struct {
	ConnectionId string
	Cause        error
}

func (e *SendError) Error() string {
	return "send to connection " + e.ConnectionId + ": " + e.Cause.Error()
}

func (e *SendError) Unwrap() error {
	return e.Cause
}

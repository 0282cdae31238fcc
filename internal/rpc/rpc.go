package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/goevery/crawlcast/internal/ierr"
)

// Request is a frame sent over the socket in either direction. Clients send
// calls; the server pushes notifications. A zero Id marks a notification, which
// never gets a reply.
type Request struct {
	Id     int              `json:"id,omitempty"`
	Method string           `json:"method"`
	Params *json.RawMessage `json:"params,omitempty"`
}

// NewNotification encodes params into a server push for method.
func NewNotification(method string, params any) (Request, error) {
	raw, err := encode(params)
	if err != nil {
		return Request{}, fmt.Errorf("encode %s params: %w", method, err)
	}

	return Request{Method: method, Params: raw}, nil
}

func (r Request) ReplyExpected() bool {
	return r.Id != 0
}

func (r Request) Reply(result any) (Response, error) {
	raw, err := encode(result)
	if err != nil {
		return Response{}, fmt.Errorf("encode %s result: %w", r.Method, err)
	}

	return Response{RequestId: r.Id, Result: raw}, nil
}

func (r Request) ReplyWithError(err ierr.Error) Response {
	return Response{RequestId: r.Id, Error: &err}
}

type Response struct {
	RequestId int              `json:"requestId,omitempty"`
	Result    *json.RawMessage `json:"result,omitempty"`
	Error     *ierr.Error      `json:"error,omitempty"`
}

func (r Response) IsFailure() bool {
	return r.Error != nil
}

func encode(v any) (*json.RawMessage, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	raw := json.RawMessage(encoded)

	return &raw, nil
}

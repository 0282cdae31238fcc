package rpc

import (
	"errors"
	"testing"

	"github.com/goevery/crawlcast/internal/ierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNotification(t *testing.T) {
	notification, err := NewNotification("broadcast", map[string]string{"payload": "data-1"})
	require.NoError(t, err)

	assert.False(t, notification.ReplyExpected())
	assert.Equal(t, "broadcast", notification.Method)
	assert.JSONEq(t, `{"payload":"data-1"}`, string(*notification.Params))

	_, err = NewNotification("broadcast", make(chan int))
	assert.ErrorContains(t, err, "encode broadcast params")
}

func TestRequest_Reply(t *testing.T) {
	request := Request{Id: 4, Method: "latest"}
	require.True(t, request.ReplyExpected())

	response, err := request.Reply(map[string]int{"seq": 3})
	require.NoError(t, err)
	assert.Equal(t, 4, response.RequestId)
	assert.False(t, response.IsFailure())
	assert.JSONEq(t, `{"seq":3}`, string(*response.Result))

	_, err = request.Reply(func() {})
	assert.ErrorContains(t, err, "encode latest result")

	response = request.ReplyWithError(ierr.New(ierr.ErrorCodeNotFound, errors.New("missing")))
	assert.Equal(t, 4, response.RequestId)
	require.True(t, response.IsFailure())
	assert.Equal(t, ierr.ErrorCodeNotFound, response.Error.Code)
}

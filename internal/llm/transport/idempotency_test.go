package transport_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-invoker/internal/llm/catalog"
	"github.com/ahrav/go-invoker/internal/llm/transport"
)

func TestGenerateIdemKey(t *testing.T) {
	base := func(payload string) *transport.Request {
		return &transport.Request{
			InvocationID: "inv-1",
			Operation:    transport.OpInvoke,
			Binding:      catalog.VendorBinding{ID: "chat-a"},
			Payload:      json.RawMessage(payload),
		}
	}

	k1, err := transport.GenerateIdemKey(base(`{"a":1,"b":[{"y":2,"x":1}]}`))
	require.NoError(t, err)
	k2, err := transport.GenerateIdemKey(base(`{ "b":[{"x":1,"y":2}], "a":1 }`))
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "key order and whitespace must not matter")
	assert.Len(t, k1.String(), 64)

	k3, err := transport.GenerateIdemKey(base(`{"a":2}`))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	other := base(`{"a":1,"b":[{"y":2,"x":1}]}`)
	other.Binding.ID = "chat-b"
	k4, err := transport.GenerateIdemKey(other)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4, "keys are per vendor")
}

func TestGenerateIdemKey_Invalid(t *testing.T) {
	_, err := transport.GenerateIdemKey(&transport.Request{Binding: catalog.VendorBinding{ID: "x"}})
	require.ErrorIs(t, err, transport.ErrInvocationIDRequired)

	_, err = transport.GenerateIdemKey(&transport.Request{InvocationID: "inv"})
	require.ErrorIs(t, err, transport.ErrVendorRequired)

	_, err = transport.GenerateIdemKey(&transport.Request{
		InvocationID: "inv",
		Binding:      catalog.VendorBinding{ID: "x"},
		Payload:      json.RawMessage(`{not json`),
	})
	require.Error(t, err)
}

func TestIdempotencyMiddleware(t *testing.T) {
	var seen string
	core := transport.HandlerFunc(func(_ context.Context, req *transport.Request) (*transport.Response, error) {
		seen = req.IdempotencyKey
		return &transport.Response{}, nil
	})
	h := transport.Chain(core, transport.IdempotencyMiddleware())

	req := &transport.Request{
		InvocationID: "inv-1",
		Binding:      catalog.VendorBinding{ID: "chat-a"},
		Payload:      json.RawMessage(`{"a":1}`),
	}
	_, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, seen, 64)
	assert.Empty(t, req.IdempotencyKey, "caller's request is not mutated")

	req.IdempotencyKey = "explicit"
	_, err = h.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "explicit", seen)
}

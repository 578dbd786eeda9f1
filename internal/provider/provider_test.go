package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMock_SucceedsByDefault(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	res, err := m.Authorize(ctx, Request{PaymentID: "pay_1", AmountMinor: 1000, Currency: "USD"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Reference)
	assert.Equal(t, 1, m.Calls("authorize"))
}

func TestMock_PreservesReference(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	res, err := m.Capture(ctx, Request{PaymentID: "pay_1", Reference: "ref_fixed"})
	require.NoError(t, err)
	assert.Equal(t, "ref_fixed", res.Reference)
}

func TestMock_ScriptedFailure(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	declined := &Error{Op: "authorize", Code: "card_declined", Message: "card declined"}
	m.FailWith("authorize", declined)

	_, err := m.Authorize(ctx, Request{PaymentID: "pay_1"})
	require.Error(t, err)
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, "card_declined", pe.Code)
	assert.False(t, IsIndeterminate(err))

	m.FailWith("authorize", nil)
	_, err = m.Authorize(ctx, Request{PaymentID: "pay_1"})
	assert.NoError(t, err)
}

func TestIsIndeterminate(t *testing.T) {
	assert.False(t, IsIndeterminate(nil))
	assert.False(t, IsIndeterminate(errors.New("plain")))
	assert.False(t, IsIndeterminate(&Error{Op: "capture", Code: "card_declined"}))
	assert.True(t, IsIndeterminate(&Error{Op: "capture", Code: "timeout", Indeterminate: true}))

	wrapped := fmt.Errorf("command failed: %w", &Error{Op: "refund", Indeterminate: true})
	assert.True(t, IsIndeterminate(wrapped))
}

func TestError_Message(t *testing.T) {
	e := &Error{Op: "authorize", Code: "card_declined", Message: "insufficient funds"}
	assert.Contains(t, e.Error(), "authorize")
	assert.Contains(t, e.Error(), "card_declined")
}

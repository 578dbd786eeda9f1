package provider

import (
	"errors"
	"testing"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripe_ClassifyCardDeclineIsDefinitive(t *testing.T) {
	s := NewStripe("sk_test_fake")

	err := s.classify("authorize", &stripe.Error{
		Type: stripe.ErrorTypeCard,
		Code: stripe.ErrorCodeCardDeclined,
		Msg:  "Your card was declined.",
	})

	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, "authorize", pe.Op)
	assert.Equal(t, string(stripe.ErrorCodeCardDeclined), pe.Code)
	assert.False(t, pe.Indeterminate)
}

func TestStripe_ClassifyAPIErrorIsIndeterminate(t *testing.T) {
	s := NewStripe("sk_test_fake")

	err := s.classify("capture", &stripe.Error{
		Type: stripe.ErrorTypeAPI,
		Msg:  "An error occurred.",
	})
	assert.True(t, IsIndeterminate(err))
}

func TestStripe_ClassifyNetworkErrorIsIndeterminate(t *testing.T) {
	s := NewStripe("sk_test_fake")

	err := s.classify("refund", errors.New("dial tcp: i/o timeout"))
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, "network", pe.Code)
	assert.True(t, pe.Indeterminate)
}

func TestStripe_Supports(t *testing.T) {
	s := NewStripe("sk_test_fake")
	assert.True(t, s.Supports("USD", "card"))
	assert.True(t, s.Supports("USD", ""))
	assert.False(t, s.Supports("", "card"))
	assert.False(t, s.Supports("USD", "bank_transfer"))
}

package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name    string
		offered []string
		want    string
	}{
		{name: "prefers ocpp1.6", offered: []string{"ocpp1.6.1", "ocpp1.6"}, want: "ocpp1.6"},
		{name: "accepts ocpp1.6.1 alone", offered: []string{"ocpp1.6.1"}, want: "ocpp1.6.1"},
		{name: "ignores unknown protocols", offered: []string{"ocpp2.0.1", "ocpp1.6"}, want: "ocpp1.6"},
		{name: "no offer", offered: nil, want: ""},
		{name: "no overlap", offered: []string{"ocpp2.0", "mqtt"}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Negotiate(tt.offered))
		})
	}
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("ocpp1.6"))
	assert.True(t, IsSupported("ocpp1.6.1"))
	assert.False(t, IsSupported("ocpp2.0"))
	assert.False(t, IsSupported(""))
}

func TestSupportedSubprotocols_ReturnsCopy(t *testing.T) {
	first := SupportedSubprotocols()
	first[0] = "mutated"
	assert.Equal(t, "ocpp1.6", SupportedSubprotocols()[0])
}

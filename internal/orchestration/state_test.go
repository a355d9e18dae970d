package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bizagents/pkg/errors"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateUnregistered, StateRegistered, true},
		{StateRegistered, StateConstructing, true},
		{StateConstructing, StateConnected, true},
		{StateConstructing, StateFailed, true},
		{StateConnected, StateDisconnected, true},
		{StateFailed, StateRegistered, true},
		{StateDisconnected, StateRegistered, true},
		{StateConnected, StateConnected, true},
		{StateFailed, StateConnected, false},
		{StateRegistered, StateConnected, false},
		{StateDisconnected, StateConnected, false},
		{StateConnected, StateConstructing, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			err := checkTransition(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, errors.ErrInvalidTransition))
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "unknown", State(42).String())

	text, err := StateFailed.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "failed", string(text))
}

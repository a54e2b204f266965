package mic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchesAny(t *testing.T) {
	tests := []struct {
		program string
		apps    []string
		want    bool
	}{
		{"/usr/lib/firefox/firefox", []string{"firefox"}, true},
		{"/usr/lib/firefox/firefox", []string{"/usr/lib/firefox/firefox"}, true},
		{"zoom", []string{"firefox", "zoom"}, true},
		{"/usr/bin/arecord", []string{"firefox"}, false},
		{"firefox-bin", []string{"firefox"}, false},
		{"zoom", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.program, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesAny(tt.program, tt.apps))
		})
	}
}

func TestIdle(t *testing.T) {
	used, err := Idle{}.InUse(context.Background(), []string{"zoom"})
	require.NoError(t, err)
	assert.False(t, used)
}

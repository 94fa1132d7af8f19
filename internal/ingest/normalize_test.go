package ingest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Weather  Forecast", "weather forecast"},
		{"  leading and trailing\t", "leading and trailing"},
		{"ＦＵＬＬＷＩＤＴＨ", "fullwidth"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeQuery(tt.in))
		})
	}
}

func TestQueryID(t *testing.T) {
	a := QueryID("weather forecast")
	b := QueryID("weather forecast")
	c := QueryID("weather")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	_, err := uuid.Parse(a)
	require.NoError(t, err)

	assert.Empty(t, QueryID(""))
}

package domain

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityOrdering(t *testing.T) {
	ordered := []Severity{SeverityDebug, SeverityInformation, SeverityWarning, SeverityError, SeverityCritical}
	for i, s := range ordered {
		assert.Equal(t, i, int(s), "wire ordinal of %s", s)
		for j, other := range ordered {
			assert.Equal(t, i >= j, s.AtLeast(other), "%s >= %s", s, other)
		}
	}
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "Warning", SeverityWarning.String())
	assert.Equal(t, "Critical", SeverityCritical.String())
	assert.Equal(t, "Severity(9)", Severity(9).String())
}

func TestSeverityFromOrdinal(t *testing.T) {
	s, err := SeverityFromOrdinal(3)
	require.NoError(t, err)
	assert.Equal(t, SeverityError, s)

	for _, bad := range []int{-1, 5, 42} {
		_, err := SeverityFromOrdinal(bad)
		assert.True(t, errors.Is(err, ErrUnknownSeverity), "ordinal %d", bad)
	}
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
	}{
		{"0", SeverityDebug},
		{" 4 ", SeverityCritical},
		{"information", SeverityInformation},
		{"Info", SeverityInformation},
		{"WARNING", SeverityWarning},
		{"warn", SeverityWarning},
		{"Error", SeverityError},
		{"crit", SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSeverity(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseSeverity("loud")
	assert.True(t, errors.Is(err, ErrUnknownSeverity))
	_, err = ParseSeverity("7")
	assert.True(t, errors.Is(err, ErrUnknownSeverity))
}

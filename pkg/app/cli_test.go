package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFlagsDefaults(t *testing.T) {
	flags, err := ParseFlags("fluxpumpd", nil)
	require.NoError(t, err)
	require.False(t, flags.Verbose)
	require.NotEmpty(t, flags.ConfigFile)
}

func TestParseFlagsOverride(t *testing.T) {
	flags, err := ParseFlags("fluxpumpd", []string{"-c", "/tmp/x.conf", "-v"})
	require.NoError(t, err)
	require.True(t, flags.Verbose)
	require.Equal(t, "/tmp/x.conf", flags.ConfigFile)
}

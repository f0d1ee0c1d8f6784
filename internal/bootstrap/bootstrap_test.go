package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "7")
	require.Equal(t, 7, EnvInt("TEST_INT", 3))
	t.Setenv("TEST_INT", "seven")
	require.Equal(t, 3, EnvInt("TEST_INT", 3))
	require.Equal(t, 3, EnvInt("TEST_INT_UNSET", 3))
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "90s")
	require.Equal(t, 90*time.Second, EnvDuration("TEST_DUR", time.Minute))
	t.Setenv("TEST_DUR", "-1s")
	require.Equal(t, time.Minute, EnvDuration("TEST_DUR", time.Minute))
	t.Setenv("TEST_DUR", "soon")
	require.Equal(t, time.Minute, EnvDuration("TEST_DUR", time.Minute))
}

func TestEnvOr(t *testing.T) {
	t.Setenv("TEST_STR", "x")
	require.Equal(t, "x", EnvOr("TEST_STR", "y"))
	require.Equal(t, "y", EnvOr("TEST_STR_UNSET", "y"))
}

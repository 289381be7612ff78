package marketplace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func timeMustParse(t *testing.T, day string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02", day)
	require.NoError(t, err)
	return ts
}

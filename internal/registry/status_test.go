package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	all := []Status{StatusPending, StatusInProgress, StatusCompleted, StatusFailed}
	allowed := map[[2]Status]bool{
		{StatusPending, StatusInProgress}:    true,
		{StatusInProgress, StatusInProgress}: true,
		{StatusInProgress, StatusCompleted}:  true,
		{StatusInProgress, StatusFailed}:     true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("in_progress")
	assert.NoError(t, err)
	assert.Equal(t, StatusInProgress, st)

	_, err = ParseStatus("done")
	assert.Error(t, err)
}

func TestTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

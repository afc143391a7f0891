//go:build !pi

package ui

import (
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCliBuzzer(t *testing.T) {
	logger, hook := test.NewNullLogger()
	b, err := InitBuzzer(DefaultBuzzerPin, logger)
	require.NoError(t, err)

	b.Beep(DefaultBeep)
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "Buzzer: beep (150ms)", hook.LastEntry().Message)
	assert.NoError(t, b.Close())
}

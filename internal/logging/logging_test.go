package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestInitWriter_Verbose(t *testing.T) {
	var buf bytes.Buffer

	InitWriter(&buf, false)
	assert.False(t, VerboseEnabled())
	log.Debug().Msg("hidden turn")
	assert.NotContains(t, buf.String(), "hidden turn")

	InitWriter(&buf, true)
	t.Cleanup(func() { InitWriter(&bytes.Buffer{}, false) })
	assert.True(t, VerboseEnabled())
	log.Debug().Msg("traced turn")
	assert.Contains(t, buf.String(), "traced turn")
}

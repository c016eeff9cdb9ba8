package main

import (
	"bytes"
	"testing"

	"github.com/metalagman/stanfix/internal/gate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderFinal_PlainWhenNotATerminal(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, renderFinal(&out, "  **done**\n"))
	assert.Equal(t, "**done**\n", out.String())

	out.Reset()
	require.NoError(t, renderFinal(&out, "   "))
	assert.Empty(t, out.String())
}

func TestDiffPrinter(t *testing.T) {
	var out bytes.Buffer
	diffPrinter(&out)(gate.Review{
		Path:     "app/A.php",
		NewFile:  true,
		Diff:     "--- before\n+++ after\n@@ -0,0 +1 @@\n+<?php\n",
		Stats:    gate.Stats{Hunks: 1, Added: 1},
		Decision: gate.Decision{Allowed: false, Reason: "adds ignore"},
	})

	text := out.String()
	assert.Contains(t, text, "app/A.php (new file)")
	assert.Contains(t, text, "1 hunk(s), +1 -0")
	assert.Contains(t, text, "+<?php")
	assert.Contains(t, text, "denied")
	assert.Contains(t, text, "adds ignore")
}

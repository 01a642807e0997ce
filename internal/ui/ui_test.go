package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessagesWithoutColor(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	Init(true)

	Banner("construct")
	Success("%d rows", 3)
	Warning("no documents")

	got := buf.String()
	assert.Contains(t, got, "▶ CONSTRUCT\n")
	assert.Contains(t, got, "✓ 3 rows\n")
	assert.Contains(t, got, "⚠ no documents\n")
}

func TestProgressIsNoopOffTerminal(t *testing.T) {
	SetOutput(&bytes.Buffer{})
	p := NewProgress(10, "x")
	assert.IsType(t, noopProgress{}, p)
	p.Add(1)
	p.Finish()
	Spin("listing")()
}

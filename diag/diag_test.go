package diag

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListKeepsOrder(t *testing.T) {
	var l List
	l.Warnf(StaticField, "Game.Player", "cache", "static field skipped")
	l.Errorf(DirectiveResolution, "", "", "template %s not found", "GetThing")
	l.Infof(Woven, "Game.Player", "", "%d fields", 2)

	all := l.All()
	require.Len(t, all, 3)
	assert.Equal(t, Warning, all[0].Severity)
	assert.Equal(t, Error, all[1].Severity)
	assert.Equal(t, "template GetThing not found", all[1].Message)
	assert.Equal(t, Info, all[2].Severity)

	assert.True(t, l.HasErrors())
	assert.Equal(t, 1, l.Count(Error))
	assert.Len(t, l.WithCode(DirectiveResolution), 1)
	assert.Empty(t, l.WithCode(MalformedField))
}

func TestCountSlice(t *testing.T) {
	ds := []Diagnostic{
		{Severity: Error, Code: Input},
		{Severity: Info, Code: Woven},
		{Severity: Error, Code: Serialization},
	}
	assert.Equal(t, 2, Count(ds, Error))
	assert.Equal(t, 0, Count(ds, Warning))
	assert.Zero(t, Count(nil, Error))
}

func TestZeroListHasNoErrors(t *testing.T) {
	var l List
	assert.False(t, l.HasErrors())
	assert.Equal(t, 0, l.Len())
}

func TestDiagnosticString(t *testing.T) {
	d := Diagnostic{Severity: Error, Code: MalformedField, Type: "Game.Player", Field: "bar", Message: "cannot import Game.Missing"}
	assert.Equal(t, "error [malformed-field] Game.Player::bar: cannot import Game.Missing", d.String())

	d = Diagnostic{Severity: Info, Code: Woven, Message: "done"}
	assert.Equal(t, "info [woven]: done", d.String())
}

func TestRender(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	var l List
	l.Infof(Woven, "Game.Player", "", "injected 2 fields into Awake")
	l.Warnf(StaticField, "Game.Player", "shared", "static fields are not injected")
	l.Errorf(DirectiveResolution, "", "", "template Nope not found on Engine.Component")

	var buf bytes.Buffer
	Render(&buf, l.All(), Warning)
	assert.Equal(t,
		"! Game.Player::shared: static fields are not injected [static-field]\n"+
			"x template Nope not found on Engine.Component [directive-resolution]\n",
		buf.String())

	buf.Reset()
	Render(&buf, l.All(), Info)
	assert.Contains(t, buf.String(), "i Game.Player: injected 2 fields into Awake [woven]")
}

func TestSummary(t *testing.T) {
	ds := []Diagnostic{{Severity: Error}, {Severity: Error}, {Severity: Warning}}
	assert.Equal(t, "2 errors, 1 warning, 0 info messages", Summary(ds))
}

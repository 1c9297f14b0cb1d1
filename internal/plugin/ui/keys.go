// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package ui holds the shortcut and view extension points plugins register
// into. Rendering is left to the terminal front end.
package ui

import (
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"
)

// keyLexer splits a chord such as "ctrl+shift+p" into keys and separators.
// A lone non-alphanumeric character is a key of its own, so "ctrl++" binds plus.
var keyLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Key", Pattern: `[A-Za-z0-9]+|[^\s+A-Za-z0-9]`},
	{Name: "Plus", Pattern: `\+`},
	{Name: "whitespace", Pattern: `\s+`},
})

// chordAST is the parse tree of a key chord.
//
// Grammar: key { "+" key }
type chordAST struct {
	Pos  lexer.Position `parser:""`
	Keys []string       `parser:"@Key ( Plus @(Key | Plus) )*"`
}

var chordParser = participle.MustBuild[chordAST](
	participle.Lexer(keyLexer),
)

// Modifier is a bit set of held modifier keys.
type Modifier uint8

// Modifier keys, in canonical order.
const (
	ModCtrl Modifier = 1 << iota
	ModAlt
	ModShift
	ModMeta
)

var modifierNames = []struct {
	mod   Modifier
	names []string
}{
	{ModCtrl, []string{"ctrl", "control"}},
	{ModAlt, []string{"alt", "option", "opt"}},
	{ModShift, []string{"shift"}},
	{ModMeta, []string{"meta", "cmd", "super", "win"}},
}

var namedKeys = map[string]string{
	"enter": "enter", "return": "enter",
	"esc": "esc", "escape": "esc",
	"tab":       "tab",
	"space":     "space",
	"backspace": "backspace",
	"delete":    "delete", "del": "delete",
	"insert": "insert", "ins": "insert",
	"up": "up", "down": "down", "left": "left", "right": "right",
	"home": "home", "end": "end",
	"pgup": "pgup", "pageup": "pgup",
	"pgdown": "pgdown", "pagedown": "pgdown", "pgdn": "pgdown",
	"plus": "+",
}

func init() {
	for i := 1; i <= 12; i++ {
		name := "f" + strconv.Itoa(i)
		namedKeys[name] = name
	}
}

// Chord is a normalized key combination: zero or more modifiers and one key.
type Chord struct {
	Mods Modifier
	Key  string
}

// String renders the chord canonically, e.g. "ctrl+shift+p".
func (c Chord) String() string {
	var b strings.Builder
	for _, m := range modifierNames {
		if c.Mods&m.mod != 0 {
			b.WriteString(m.names[0])
			b.WriteByte('+')
		}
	}
	b.WriteString(c.Key)
	return b.String()
}

// ParseChord parses a chord such as "Ctrl+Shift+P" or "alt+enter". Modifier
// and named keys are case-insensitive. A lone character keeps its case; with
// any modifier held, letters are lowercased.
func ParseChord(s string) (Chord, error) {
	ast, err := chordParser.ParseString("", s)
	if err != nil {
		return Chord{}, oops.In("ui").With("keys", s).Hint("expected key or modifier+key").Wrap(err)
	}

	var c Chord
	last := len(ast.Keys) - 1
	for i, tok := range ast.Keys {
		if i < last {
			mod, ok := lookupModifier(tok)
			if !ok {
				return Chord{}, oops.In("ui").With("keys", s).Errorf("unknown modifier %q", tok)
			}
			if c.Mods&mod != 0 {
				return Chord{}, oops.In("ui").With("keys", s).Errorf("duplicate modifier %q", tok)
			}
			c.Mods |= mod
			continue
		}
		key, err := normalizeKey(tok)
		if err != nil {
			return Chord{}, oops.In("ui").With("keys", s).Wrap(err)
		}
		c.Key = key
	}
	if c.Mods != 0 && len(c.Key) == 1 {
		c.Key = strings.ToLower(c.Key)
	}
	return c, nil
}

func lookupModifier(tok string) (Modifier, bool) {
	lower := strings.ToLower(tok)
	for _, m := range modifierNames {
		for _, name := range m.names {
			if lower == name {
				return m.mod, true
			}
		}
	}
	return 0, false
}

func normalizeKey(tok string) (string, error) {
	if len(tok) == 1 {
		return tok, nil
	}
	if named, ok := namedKeys[strings.ToLower(tok)]; ok {
		return named, nil
	}
	return "", oops.Errorf("unknown key %q", tok)
}

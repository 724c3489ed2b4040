// Package cmdtemplate parses the user's command template once and, per
// candidate, expands it into either an argument vector or a shell string
// with the temporary file path (or contents) substituted in.
//
// Grammar summary:
//
//	space            separates arguments, unless shell mode is on
//	\c               escapes \\ ' " n r t @; any other \c passes through as-is
//	'...' and "..."  quote runs; stripped in non-shell mode, kept in shell mode
//	@                expands to the absolute temp file path
//	@@               expands to the temp file's contents
//	<@ (trailing)    in non-shell mode, enables stdin-input mode
//
// This package does not parse the ddmin CLI's own flags; it only parses
// the `<command>` positional argument's template grammar.
package cmdtemplate

import (
	"strings"
)

type pieceKind int

const (
	pieceLiteral pieceKind = iota
	piecePath
	pieceContents
)

type piece struct {
	kind pieceKind
	text string // only meaningful for pieceLiteral
}

// Template is the compiled form of a command template, parsed once and
// expanded per candidate.
type Template struct {
	shell bool

	// args holds one piece sequence per non-shell-mode argument.
	args [][]piece

	// shellPieces holds the single piece sequence for shell mode.
	shellPieces []piece

	// hasToken reports whether @ or @@ appeared anywhere in the template.
	// When false and StdinMode is false, the temp file path is appended as
	// an extra trailing argument at expansion time.
	hasToken bool

	// StdinMode is set by Parse when a non-shell template ended in a
	// trailing "<@", which this parser strips. Callers may also set it
	// directly (in either mode) to feed the tempfile on stdin.
	StdinMode bool
}

const stdinSuffix = "<@"

// Parse compiles tmpl once. shell selects whether the template is expanded
// as a single string passed to `sh -c` or as a space-separated argument
// vector.
func Parse(tmpl string, shell bool) (*Template, error) {
	t := &Template{shell: shell}

	if !shell {
		trimmed := strings.TrimRight(tmpl, " \t")
		if strings.HasSuffix(trimmed, stdinSuffix) {
			tmpl = strings.TrimRight(trimmed[:len(trimmed)-len(stdinSuffix)], " \t")
			t.StdinMode = true
		}
	}

	pieces, argBreaks, err := scan(tmpl, shell)
	if err != nil {
		return nil, err
	}

	for _, p := range pieces {
		if p.kind != pieceLiteral {
			t.hasToken = true
		}
	}

	if shell {
		t.shellPieces = pieces

		return t, nil
	}

	t.args = splitArgs(pieces, argBreaks)

	return t, nil
}

// argBreak marks a piece-index boundary where an (unquoted) space split one
// argument from the next.
type argBreak int

func splitArgs(pieces []piece, breaks []argBreak) [][]piece {
	if len(pieces) == 0 {
		return nil
	}

	breakSet := make(map[int]bool, len(breaks))
	for _, b := range breaks {
		breakSet[int(b)] = true
	}

	var args [][]piece

	var cur []piece

	for i, p := range pieces {
		if breakSet[i] {
			if len(cur) > 0 {
				args = append(args, cur)
			}

			cur = nil
		}

		cur = append(cur, p)
	}

	if len(cur) > 0 {
		args = append(args, cur)
	}

	return args
}

// scan is the single tokenizer shared by shell and non-shell mode. It
// recognizes escapes, quote runs, and @/@@ tokens uniformly; splitArgs then
// cuts the resulting piece stream into arguments at the recorded breaks
// (non-shell mode only — shell mode ignores breaks entirely, since the
// entire template is a single unit).
func scan(tmpl string, shell bool) ([]piece, []argBreak, error) {
	var (
		pieces  []piece
		breaks  []argBreak
		lit     strings.Builder
		inQuote rune // 0 when not inside a quoted run
	)

	flushLit := func() {
		if lit.Len() > 0 {
			pieces = append(pieces, piece{kind: pieceLiteral, text: lit.String()})
			lit.Reset()
		}
	}

	runes := []rune(tmpl)

	for i := 0; i < len(runes); i++ {
		c := runes[i]

		switch {
		case c == '\\' && i+1 < len(runes):
			next := runes[i+1]
			if mapped, ok := escapeFor(next); ok {
				// In shell mode a quote or backslash produced by an escape
				// must stay backslash-escaped, or the generated sh string
				// would treat it as a delimiter.
				if shell && (mapped == '\\' || mapped == '\'' || mapped == '"') {
					lit.WriteRune('\\')
				}

				lit.WriteRune(mapped)
				i++

				continue
			}
			// Unrecognized \c: passed through literally as \c.
			lit.WriteRune('\\')
			lit.WriteRune(next)
			i++

		// @ and @@ are recognized regardless of quote context: quoting only
		// governs argument splitting (non-shell mode) and whether the
		// delimiter characters themselves are kept (shell mode), not
		// whether substitution happens.
		case c == '@' && i+1 < len(runes) && runes[i+1] == '@':
			flushLit()
			pieces = append(pieces, piece{kind: pieceContents})
			i++

		case c == '@':
			flushLit()
			pieces = append(pieces, piece{kind: piecePath})

		case inQuote != 0:
			if c == inQuote {
				inQuote = 0

				if shell {
					lit.WriteRune(c)
				}

				continue
			}

			lit.WriteRune(c)

		case c == '\'' || c == '"':
			inQuote = c

			if shell {
				lit.WriteRune(c)
			}

		case c == ' ' && !shell:
			flushLit()
			breaks = append(breaks, argBreak(len(pieces)))

		default:
			lit.WriteRune(c)
		}
	}

	if inQuote != 0 {
		return nil, nil, errUnterminatedQuote
	}

	flushLit()

	return pieces, breaks, nil
}

func escapeFor(c rune) (rune, bool) {
	switch c {
	case '\\':
		return '\\', true
	case '\'':
		return '\'', true
	case '"':
		return '"', true
	case 'n':
		return '\n', true
	case 'r':
		return '\r', true
	case 't':
		return '\t', true
	case '@':
		return '@', true
	default:
		return 0, false
	}
}

// Expanded is the result of expanding a Template against one candidate's
// materialized tempfile.
type Expanded struct {
	// Argv is populated in non-shell mode.
	Argv []string

	// ShellCommand is populated in shell mode: argv is {"sh", "-c", ShellCommand}.
	ShellCommand string
}

// Expand substitutes path and contents into the compiled template. When
// neither @ nor @@ appeared in the template and stdin-input mode is off,
// the path is appended as an extra trailing argument.
func Expand(t *Template, path string, contents []byte) (Expanded, error) {
	if t.shell {
		return expandShell(t, path, contents)
	}

	return expandArgv(t, path, contents)
}

func expandArgv(t *Template, path string, contents []byte) (Expanded, error) {
	argv := make([]string, 0, len(t.args)+1)

	for _, pieces := range t.args {
		var b strings.Builder

		for _, p := range pieces {
			switch p.kind {
			case pieceLiteral:
				b.WriteString(p.text)
			case piecePath:
				b.WriteString(path)
			case pieceContents:
				b.Write(contents)
			}
		}

		argv = append(argv, b.String())
	}

	if !t.hasToken && !t.StdinMode {
		argv = append(argv, path)
	}

	return Expanded{Argv: argv}, nil
}

func expandShell(t *Template, path string, contents []byte) (Expanded, error) {
	var b strings.Builder

	for _, p := range t.shellPieces {
		switch p.kind {
		case pieceLiteral:
			b.WriteString(p.text)
		case piecePath:
			b.WriteString(path)
		case pieceContents:
			quoted, err := shellSingleQuote(contents)
			if err != nil {
				return Expanded{}, err
			}

			b.WriteString(quoted)
		}
	}

	if !t.hasToken && !t.StdinMode {
		b.WriteByte(' ')
		b.WriteString(path)
	}

	return Expanded{ShellCommand: b.String()}, nil
}

// shellSingleQuote wraps contents in single quotes using the standard
// '\'' trick, so arbitrary bytes (aside from NUL) survive a round trip
// through `sh -c`.
func shellSingleQuote(contents []byte) (string, error) {
	for _, c := range contents {
		if c == 0 {
			return "", errNulInTempfile
		}
	}

	var b strings.Builder

	b.WriteByte('\'')

	for _, c := range contents {
		if c == '\'' {
			b.WriteString(`'\''`)
			continue
		}

		b.WriteByte(c)
	}

	b.WriteByte('\'')

	return b.String(), nil
}

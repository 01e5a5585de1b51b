package config

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	errUnterminatedQuote  = errors.New("unterminated quote")
	errUnterminatedEscape = errors.New("unterminated escape sequence")
)

// ParseCommand splits a shell-style command line into a CommandConfig.
// Single quotes are literal; inside double quotes a backslash escapes only
// `"` and `\`. A line starting with # disables the command.
func ParseCommand(raw string) (CommandConfig, error) {
	argv, err := splitCommand(raw)
	if err != nil {
		return CommandConfig{}, fmt.Errorf("%w in command: %q", err, raw)
	}
	return CommandConfig{Raw: raw, Argv: argv}, nil
}

// MustParseCommand is ParseCommand for compiled-in defaults.
func MustParseCommand(raw string) CommandConfig {
	cmd, err := ParseCommand(raw)
	if err != nil {
		panic(err)
	}
	return cmd
}

type commandSplitter struct {
	argv    []string
	word    strings.Builder
	inWord  bool
	quote   rune
	escaped bool
}

func splitCommand(raw string) ([]string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return nil, nil
	}

	var s commandSplitter
	for _, r := range trimmed {
		s.feed(r)
	}
	if s.escaped {
		return nil, errUnterminatedEscape
	}
	if s.quote != 0 {
		return nil, errUnterminatedQuote
	}
	s.endWord()
	return s.argv, nil
}

func (s *commandSplitter) feed(r rune) {
	if s.escaped {
		if s.quote == '"' && r != '"' && r != '\\' {
			s.word.WriteRune('\\')
		}
		s.word.WriteRune(r)
		s.escaped = false
		return
	}

	switch s.quote {
	case '\'':
		if r == '\'' {
			s.quote = 0
		} else {
			s.word.WriteRune(r)
		}
		return
	case '"':
		switch r {
		case '"':
			s.quote = 0
		case '\\':
			s.escaped = true
		default:
			s.word.WriteRune(r)
		}
		return
	}

	switch {
	case r == '\\':
		s.inWord = true
		s.escaped = true
	case r == '\'' || r == '"':
		s.inWord = true
		s.quote = r
	case unicode.IsSpace(r):
		s.endWord()
	default:
		s.inWord = true
		s.word.WriteRune(r)
	}
}

// endWord flushes the current word; quoted empty strings count as words.
func (s *commandSplitter) endWord() {
	if !s.inWord {
		return
	}
	s.argv = append(s.argv, s.word.String())
	s.word.Reset()
	s.inWord = false
}

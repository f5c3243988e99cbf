package dxf

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Token is one group-code/value pair from the tagged interchange stream.
type Token struct {
	Code  int
	Value string
	Line  int // Line number of the group code, 1-based
}

// Float parses the token value as a float64.
func (t Token) Float() (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(t.Value), 64)
	if err != nil {
		return 0, fmt.Errorf("line %d: group %d value %q is not numeric", t.Line, t.Code, t.Value)
	}
	return v, nil
}

// Int parses the token value as an int.
func (t Token) Int() (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(t.Value))
	if err != nil {
		return 0, fmt.Errorf("line %d: group %d value %q is not an integer", t.Line, t.Code, t.Value)
	}
	return v, nil
}

// tokenizer reads group-code/value pairs line by line. A group code line
// that is not an integer, or a code with no value line following it, is a
// hard error: the pairing discipline is the one thing the format promises.
type tokenizer struct {
	scanner *bufio.Scanner
	line    int

	peeked  *Token
	peekErr error
}

func newTokenizer(r io.Reader) *tokenizer {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &tokenizer{scanner: sc}
}

// Next returns the next token, or io.EOF at end of stream.
func (tz *tokenizer) Next() (Token, error) {
	if tz.peeked != nil {
		tok, err := *tz.peeked, tz.peekErr
		tz.peeked, tz.peekErr = nil, nil
		return tok, err
	}
	return tz.read()
}

// Peek returns the next token without consuming it.
func (tz *tokenizer) Peek() (Token, error) {
	if tz.peeked == nil {
		tok, err := tz.read()
		tz.peeked, tz.peekErr = &tok, err
	}
	return *tz.peeked, tz.peekErr
}

func (tz *tokenizer) read() (Token, error) {
	if !tz.scanner.Scan() {
		if err := tz.scanner.Err(); err != nil {
			return Token{}, err
		}
		return Token{}, io.EOF
	}
	tz.line++
	codeLine := strings.TrimSpace(tz.scanner.Text())
	tokenLine := tz.line

	code, err := strconv.Atoi(codeLine)
	if err != nil {
		return Token{}, fmt.Errorf("line %d: malformed group code %q", tokenLine, codeLine)
	}

	if !tz.scanner.Scan() {
		if err := tz.scanner.Err(); err != nil {
			return Token{}, err
		}
		return Token{}, fmt.Errorf("line %d: group code %d has no value", tokenLine, code)
	}
	tz.line++

	// Values keep interior whitespace; only the line ending is trimmed.
	value := strings.TrimRight(tz.scanner.Text(), "\r\n")
	return Token{Code: code, Value: strings.TrimSpace(value), Line: tokenLine}, nil
}

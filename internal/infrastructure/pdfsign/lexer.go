package pdfsign

import (
	"bytes"
	"strconv"
)

func isWhitespace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isRegular(c byte) bool {
	return !isWhitespace(c) && !isDelimiter(c)
}

// lexer reads PDF objects from a byte slice
type lexer struct {
	data []byte
	pos  int
}

func newLexer(data []byte, pos int) *lexer {
	return &lexer{data: data, pos: pos}
}

func (l *lexer) eof() bool {
	return l.pos >= len(l.data)
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if isWhitespace(c) {
			l.pos++
			continue
		}
		if c == '%' {
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		return
	}
}

func (l *lexer) hasPrefix(s string) bool {
	if l.pos > len(l.data) {
		return false
	}
	return bytes.HasPrefix(l.data[l.pos:], []byte(s))
}

// regularToken reads a run of regular characters
func (l *lexer) regularToken() string {
	start := l.pos
	for l.pos < len(l.data) && isRegular(l.data[l.pos]) {
		l.pos++
	}
	return string(l.data[start:l.pos])
}

// readObject parses the next object. References are folded from "n g R".
func (l *lexer) readObject() (Object, error) {
	l.skipSpace()
	if l.eof() {
		return nil, parseErr("unexpected end of data")
	}

	switch c := l.data[l.pos]; {
	case c == '/':
		l.pos++
		return l.readName(), nil
	case c == '(':
		l.pos++
		return l.readLiteral()
	case c == '<' && l.hasPrefix("<<"):
		l.pos += 2
		return l.readDict()
	case c == '<':
		l.pos++
		return l.readHex()
	case c == '[':
		l.pos++
		return l.readArray()
	case c == ']' || (c == '>' && l.hasPrefix(">>")):
		return nil, parseErr("unexpected %q at offset %d", c, l.pos)
	case c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9'):
		return l.readNumberOrRef()
	}

	start := l.pos
	tok := l.regularToken()
	switch tok {
	case "":
		return nil, parseErr("unexpected byte %q at offset %d", l.data[start], start)
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}
	return keyword(tok), nil
}

func (l *lexer) readName() Name {
	var buf []byte
	for l.pos < len(l.data) && isRegular(l.data[l.pos]) {
		c := l.data[l.pos]
		if c == '#' && l.pos+2 < len(l.data) {
			if v, err := strconv.ParseUint(string(l.data[l.pos+1:l.pos+3]), 16, 8); err == nil {
				buf = append(buf, byte(v))
				l.pos += 3
				continue
			}
		}
		buf = append(buf, c)
		l.pos++
	}
	return Name(buf)
}

func (l *lexer) readLiteral() (Object, error) {
	var buf []byte
	depth := 1
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return String(buf), nil
			}
		case '\\':
			if l.eof() {
				return nil, parseErr("unterminated string")
			}
			e := l.data[l.pos]
			l.pos++
			switch e {
			case 'n':
				c = '\n'
			case 'r':
				c = '\r'
			case 't':
				c = '\t'
			case 'b':
				c = '\b'
			case 'f':
				c = '\f'
			case '\r':
				if !l.eof() && l.data[l.pos] == '\n' {
					l.pos++
				}
				continue
			case '\n':
				continue
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && !l.eof() && l.data[l.pos] >= '0' && l.data[l.pos] <= '7'; i++ {
						v = v*8 + int(l.data[l.pos]-'0')
						l.pos++
					}
					c = byte(v)
				} else {
					c = e
				}
			}
		}
		buf = append(buf, c)
	}
	return nil, parseErr("unterminated string")
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func (l *lexer) readHex() (Object, error) {
	var buf []byte
	var hi byte
	half := false
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		if c == '>' {
			if half {
				buf = append(buf, hi<<4)
			}
			return HexString(buf), nil
		}
		if isWhitespace(c) {
			continue
		}
		v, ok := unhex(c)
		if !ok {
			return nil, parseErr("bad hex digit %q", c)
		}
		if half {
			buf = append(buf, hi<<4|v)
		} else {
			hi = v
		}
		half = !half
	}
	return nil, parseErr("unterminated hex string")
}

func (l *lexer) readArray() (Object, error) {
	arr := Array{}
	for {
		l.skipSpace()
		if l.eof() {
			return nil, parseErr("unterminated array")
		}
		if l.data[l.pos] == ']' {
			l.pos++
			return arr, nil
		}
		obj, err := l.readObject()
		if err != nil {
			return nil, err
		}
		arr = append(arr, obj)
	}
}

func (l *lexer) readDict() (Object, error) {
	dict := Dict{}
	for {
		l.skipSpace()
		if l.eof() {
			return nil, parseErr("unterminated dictionary")
		}
		if l.hasPrefix(">>") {
			l.pos += 2
			return dict, nil
		}
		key, err := l.readObject()
		if err != nil {
			return nil, err
		}
		name, ok := key.(Name)
		if !ok {
			return nil, parseErr("dictionary key %v is not a name", key)
		}
		value, err := l.readObject()
		if err != nil {
			return nil, err
		}
		if value != nil {
			dict[name] = value
		}
	}
}

func (l *lexer) readNumber() (Object, error) {
	tok := l.regularToken()
	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return nil, parseErr("bad number %q", tok)
	}
	return f, nil
}

func (l *lexer) readNumberOrRef() (Object, error) {
	obj, err := l.readNumber()
	if err != nil {
		return nil, err
	}
	num, ok := obj.(int64)
	if !ok || num < 0 {
		return obj, nil
	}

	save := l.pos
	l.skipSpace()
	if l.eof() || l.data[l.pos] < '0' || l.data[l.pos] > '9' {
		l.pos = save
		return obj, nil
	}
	gen, err := l.readNumber()
	if g, ok := gen.(int64); err == nil && ok {
		l.skipSpace()
		if !l.eof() && l.data[l.pos] == 'R' && (l.pos+1 == len(l.data) || !isRegular(l.data[l.pos+1])) {
			l.pos++
			return Ref{Num: int(num), Gen: int(g)}, nil
		}
	}
	l.pos = save
	return obj, nil
}

// expectKeyword consumes kw or fails
func (l *lexer) expectKeyword(kw string) error {
	l.skipSpace()
	start := l.pos
	if tok := l.regularToken(); tok != kw {
		return parseErr("expected %q at offset %d, found %q", kw, start, tok)
	}
	return nil
}

// readInt reads a non-negative integer token
func (l *lexer) readInt() (int64, error) {
	l.skipSpace()
	start := l.pos
	tok := l.regularToken()
	v, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return 0, parseErr("expected integer at offset %d, found %q", start, tok)
	}
	return v, nil
}

// Copyright 2026 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package sqlscript turns a free-form SQL script into the ordered list of
statements that are sent to the server one at a time.

Tokenisation uses the PostgreSQL scanner (through pg_query), so string
constants, quoted identifiers, E'' strings and dollar-quoted bodies are never
split or stripped. Nothing here parses statements: a script the scanner
rejects is passed through as a single statement and the server reports the
error.
*/
package sqlscript

import (
	"strings"
	"unicode"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Statement is one statement of a script.
type Statement struct {
	// Text is the statement trimmed of surrounding whitespace. It keeps its
	// terminating ';' when the script had one.
	Text string
	// FirstToken is the first non-comment token, uppercased.
	FirstToken string
}

// Body returns the statement text without its terminating ';'.
func (s Statement) Body() string {
	body, _ := strings.CutSuffix(s.Text, ";")
	return strings.TrimRightFunc(body, unicode.IsSpace)
}

// Prepare is StripComments followed by Split.
func Prepare(script string) []Statement {
	return Split(StripComments(script))
}

// StripComments removes "--" and "/* */" comments from script. A comment
// that sat between two tokens is replaced by a single space. Applying
// StripComments twice gives the same result as applying it once.
//
// A script that cannot be tokenised is returned unchanged.
func StripComments(script string) string {
	tokens, err := scan(script)
	if err != nil {
		return script
	}

	var b strings.Builder
	b.Grow(len(script))
	prev := 0
	for _, tok := range tokens {
		if !isComment(tok) {
			continue
		}
		start, end := int(tok.Start), int(tok.End)
		b.WriteString(script[prev:start])
		if needsSeparator(b.String(), script[end:]) {
			b.WriteByte(' ')
		}
		prev = end
	}
	if prev == 0 {
		return script
	}
	b.WriteString(script[prev:])
	return b.String()
}

// Split cuts script at every top-level ';'. Statements keep their order and
// internal formatting. Fragments holding only whitespace, comments or a bare
// ';' produce no statement.
func Split(script string) []Statement {
	tokens, err := scan(script)
	if err != nil {
		text := strings.TrimSpace(script)
		if text == "" {
			return nil
		}
		return []Statement{{Text: text, FirstToken: firstField(text)}}
	}

	var (
		stmts []Statement
		start int
		depth int
		first string
	)
	flush := func(end int) {
		if first != "" {
			stmts = append(stmts, Statement{
				Text:       strings.TrimSpace(script[start:end]),
				FirstToken: first,
			})
		}
		start = end
		first = ""
	}

	for _, tok := range tokens {
		switch {
		case isComment(tok):
			continue
		case tok.Token == pg_query.Token_ASCII_40:
			depth++
		case tok.Token == pg_query.Token_ASCII_41:
			if depth > 0 {
				depth--
			}
		case tok.Token == pg_query.Token_ASCII_59 && depth == 0:
			flush(int(tok.End))
			continue
		}
		if first == "" {
			first = strings.ToUpper(script[tok.Start:tok.End])
		}
	}
	flush(len(script))
	return stmts
}

// Join re-joins statement bodies with ";\n". The result executes the same
// statements as the script they were split from.
func Join(stmts []Statement) string {
	bodies := make([]string, len(stmts))
	for i, s := range stmts {
		bodies[i] = s.Body()
	}
	return strings.Join(bodies, ";\n")
}

// FirstToken returns the first non-comment token of text, uppercased.
func FirstToken(text string) (string, bool) {
	tokens, err := scan(text)
	if err != nil {
		tok := firstField(text)
		return tok, tok != ""
	}
	for _, tok := range tokens {
		if isComment(tok) {
			continue
		}
		return strings.ToUpper(text[tok.Start:tok.End]), true
	}
	return "", false
}

func scan(script string) ([]*pg_query.ScanToken, error) {
	res, err := pg_query.Scan(script)
	if err != nil {
		return nil, err
	}
	return res.GetTokens(), nil
}

func isComment(tok *pg_query.ScanToken) bool {
	return tok.Token == pg_query.Token_SQL_COMMENT || tok.Token == pg_query.Token_C_COMMENT
}

// needsSeparator reports whether removing a comment would glue the text on
// its left to the text on its right.
func needsSeparator(left, right string) bool {
	if left == "" || right == "" {
		return false
	}
	return !isSpace(left[len(left)-1]) && !isSpace(right[0])
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}

func firstField(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

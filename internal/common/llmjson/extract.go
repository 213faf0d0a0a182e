// Package llmjson pulls a JSON object out of free-form model output.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	apperrors "trial-screener/internal/common/errors"

	"github.com/tidwall/gjson"
)

var (
	ErrEmptyResponse = errors.New(string(apperrors.ErrCodeExtractionEmpty))
	ErrNoJSONFound   = errors.New(string(apperrors.ErrCodeExtractionNoJSON))
	ErrMalformedJSON = errors.New(string(apperrors.ErrCodeExtractionMalformed))
	ErrNotAnObject   = errors.New(string(apperrors.ErrCodeExtractionNotObject))
)

const snippetRadius = 250

var (
	leadingFence  = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	trailingFence = regexp.MustCompile("\\s*```$")
	greedyObject  = regexp.MustCompile(`(?s)\{.*\}`)
)

// Strategy names accepted by New.
const (
	StrategyGreedy   = "greedy"
	StrategyBalanced = "balanced"
)

// Extractor locates and parses the JSON object in a model response.
type Extractor interface {
	Extract(raw string) (*Object, error)
}

// New returns the extractor for strategy; unknown names get the greedy one.
func New(strategy string) Extractor {
	if strategy == StrategyBalanced {
		return Balanced{}
	}
	return Greedy{}
}

// Extract runs the greedy extractor.
func Extract(raw string) (*Object, error) {
	return Greedy{}.Extract(raw)
}

// MalformedJSONError carries the parser offset and the text around it.
type MalformedJSONError struct {
	Offset  int64
	Snippet string
	Err     error
}

func (e *MalformedJSONError) Error() string {
	return fmt.Sprintf("%s: invalid JSON from model (near pos %d): %v. Snippet:\n%s",
		ErrMalformedJSON, e.Offset, e.Err, e.Snippet)
}

func (e *MalformedJSONError) Is(target error) bool {
	return target == ErrMalformedJSON
}

func (e *MalformedJSONError) Unwrap() error {
	return e.Err
}

// Object is a parsed JSON object that remembers its source text, so callers
// can walk keys in document order.
type Object struct {
	raw    string
	fields map[string]interface{}
}

func (o *Object) Raw() string {
	return o.raw
}

func (o *Object) Map() map[string]interface{} {
	return o.fields
}

// Get evaluates a gjson path against the source text.
func (o *Object) Get(path string) gjson.Result {
	return gjson.Get(o.raw, path)
}

// Greedy takes everything from the first '{' to the last '}' as one blob.
// Stray braces in trailing prose end up inside the blob.
type Greedy struct{}

func (Greedy) Extract(raw string) (*Object, error) {
	text, err := prepare(raw)
	if err != nil {
		return nil, err
	}

	blob := greedyObject.FindString(text)
	if blob == "" {
		return nil, noObject(text)
	}
	return parse(blob)
}

// Balanced takes the first brace-balanced object that parses, skipping
// braces inside string literals.
type Balanced struct{}

func (Balanced) Extract(raw string) (*Object, error) {
	text, err := prepare(raw)
	if err != nil {
		return nil, err
	}

	var firstErr error
	for start := strings.IndexByte(text, '{'); start >= 0; {
		end := matchBrace(text, start)
		if end < 0 {
			// Unterminated: report it as malformed unless an earlier
			// candidate already failed.
			if firstErr == nil {
				_, firstErr = parse(text[start:])
			}
			break
		}

		obj, err := parse(text[start : end+1])
		if err == nil {
			return obj, nil
		}
		if firstErr == nil {
			firstErr = err
		}

		next := strings.IndexByte(text[end+1:], '{')
		if next < 0 {
			break
		}
		start = end + 1 + next
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return nil, noObject(text)
}

// matchBrace returns the index of the '}' closing the '{' at start, or -1.
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// prepare trims and strips code fences.
func prepare(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", ErrEmptyResponse
	}

	text = leadingFence.ReplaceAllString(text, "")
	text = trailingFence.ReplaceAllString(text, "")
	return text, nil
}

// noObject is the error for text holding no object span: valid JSON of
// another shape is reported as such.
func noObject(text string) error {
	if gjson.Valid(text) {
		return ErrNotAnObject
	}
	return ErrNoJSONFound
}

func parse(blob string) (*Object, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(blob), &v); err != nil {
		return nil, malformed(blob, err)
	}

	fields, ok := v.(map[string]interface{})
	if !ok {
		return nil, ErrNotAnObject
	}
	return &Object{raw: blob, fields: fields}, nil
}

func malformed(blob string, err error) error {
	var offset int64
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		offset = syntaxErr.Offset
	} else {
		offset = int64(len(blob))
	}

	start := int(offset) - snippetRadius
	if start < 0 {
		start = 0
	}
	end := int(offset) + snippetRadius
	if end > len(blob) {
		end = len(blob)
	}
	for start < end && !utf8.RuneStart(blob[start]) {
		start++
	}
	for end < len(blob) && end > start && !utf8.RuneStart(blob[end]) {
		end--
	}

	return &MalformedJSONError{
		Offset:  offset,
		Snippet: blob[start:end],
		Err:     err,
	}
}

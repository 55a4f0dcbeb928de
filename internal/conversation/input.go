package conversation

import (
	"errors"
	"net/mail"
	"strconv"
	"strings"
)

// ErrMalformedInput means the text does not have the shape the step expects.
// The caller re-prompts and keeps the step.
var ErrMalformedInput = errors.New("malformed input")

type Shape int

const (
	ShapeNone Shape = iota
	ShapeText
	ShapeIDHandle
	ShapeEmail
)

func (s Shape) String() string {
	switch s {
	case ShapeText:
		return "text"
	case ShapeIDHandle:
		return "id-handle"
	case ShapeEmail:
		return "email"
	}
	return "none"
}

// Shape returns the single input shape the step accepts.
func (s Step) Shape() Shape {
	switch s {
	case StepIdle, "":
		return ShapeNone
	case StepAddModerator, StepAddSubAdmin:
		return ShapeIDHandle
	case StepChangeContact:
		return ShapeEmail
	}
	return ShapeText
}

// Input is the parsed payload of a step.
type Input struct {
	Text   string
	UserID int64
	Handle string
}

// Parse validates text against the step's shape.
func Parse(step Step, text string) (Input, error) {
	switch step.Shape() {
	case ShapeText:
		t, err := ParseText(text)
		return Input{Text: t}, err
	case ShapeIDHandle:
		id, h, err := ParseIDHandle(text)
		return Input{UserID: id, Handle: h}, err
	case ShapeEmail:
		e, err := ParseEmail(text)
		return Input{Text: e}, err
	}
	return Input{}, ErrMalformedInput
}

// ParseText accepts any text that is not blank. The text is returned as sent.
func ParseText(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrMalformedInput
	}
	return text, nil
}

// ParseIDHandle parses "<id> <username>"; the "@" prefix is optional.
func ParseIDHandle(text string) (int64, string, error) {
	f := strings.Fields(text)
	if len(f) != 2 {
		return 0, "", ErrMalformedInput
	}
	id, err := strconv.ParseInt(f[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", ErrMalformedInput
	}
	h := strings.TrimPrefix(f[1], "@")
	if h == "" {
		return 0, "", ErrMalformedInput
	}
	return id, h, nil
}

// ParseEmail accepts a bare address, no display name.
func ParseEmail(text string) (string, error) {
	t := strings.TrimSpace(text)
	a, err := mail.ParseAddress(t)
	if err != nil || a.Name != "" || a.Address != t || !strings.Contains(t[strings.LastIndex(t, "@")+1:], ".") {
		return "", ErrMalformedInput
	}
	return a.Address, nil
}

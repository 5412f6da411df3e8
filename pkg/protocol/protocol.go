// Package protocol implements the single-line hub message format
// TO:VERB:NOUN[:ARG...]:FROM used between rsbp and a monitoring hub.
package protocol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Broadcast is the recipient every shard accepts.
const Broadcast = "ALL"

const (
	VerbState = "STATE"
	VerbPress = "PRESS"
	VerbGet   = "GET"
	VerbOK    = "OK"
	VerbErr   = "ERR"
)

type Message struct {
	To   string
	Verb string
	Noun string
	Args []string
	From string
}

// Parse decodes one line. Verb and noun are upper-cased.
func Parse(line string) (*Message, error) {
	s := strings.TrimSpace(line)
	if s == "" {
		return nil, errors.New("empty message")
	}
	if strings.ContainsAny(s, " \t\r\n") {
		// frames are single-line
		return nil, fmt.Errorf("invalid whitespace present")
	}
	parts := strings.Split(s, ":")
	if len(parts) < 4 {
		return nil, fmt.Errorf("too few fields: got %d, want >= 4", len(parts))
	}

	to := parts[0]
	verb := parts[1]
	noun := parts[2]
	from := parts[len(parts)-1]
	args := append([]string(nil), parts[3:len(parts)-1]...)

	if !isToken(to) {
		return nil, fmt.Errorf("invalid TO token: %q", to)
	}
	if !isToken(from) {
		return nil, fmt.Errorf("invalid FROM token: %q", from)
	}
	if !isToken(noun) || !isToken(verb) {
		return nil, fmt.Errorf("invalid NOUN/VERB: %q %q", noun, verb)
	}
	for i, a := range args {
		if !isToken(a) {
			return nil, fmt.Errorf("invalid ARG[%d]: %q", i, a)
		}
	}

	return &Message{
		To:   to,
		Verb: strings.ToUpper(verb),
		Noun: strings.ToUpper(noun),
		Args: args,
		From: from,
	}, nil
}

// AddressedTo reports whether a raw line is meant for shard. It is checked
// before parsing so foreign traffic costs nothing.
func AddressedTo(line []byte, shard string) bool {
	to, _, _ := strings.Cut(string(line), ":")
	return to == shard || to == Broadcast
}

var tokenRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func isToken(s string) bool {
	return tokenRe.MatchString(s)
}

func (m *Message) String() string {
	parts := make([]string, 0, 4+len(m.Args))
	parts = append(parts, m.To)
	parts = append(parts, m.Verb)
	parts = append(parts, m.Noun)
	parts = append(parts, m.Args...)
	parts = append(parts, m.From)
	return strings.Join(parts, ":")
}

// Reply builds a response addressed back to the sender of m.
func (m *Message) Reply(from string) *Message {
	return &Message{To: m.From, Verb: VerbOK, Noun: m.Noun, From: from}
}

func (m *Message) Error(reason string, args ...string) {
	m.Verb = VerbErr
	m.Noun = reason
	m.Args = args
}

func (m *Message) Ok(reason string, args ...string) {
	m.Verb = VerbOK
	m.Noun = reason
	m.Args = args
}

// Copyright (c) 2026 Keymaster Team
// iscsictl - iSCSI lab provisioning over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package remote

import "strings"

// DefaultPromptSuffix is what PAM prints when it wants the account password.
const DefaultPromptSuffix = "Password: "

// PromptState is the position of a PromptResponder in its exchange.
type PromptState int

const (
	// AwaitingPrompt means no prompt has been recognised yet.
	AwaitingPrompt PromptState = iota
	// PromptMatched means a prompt was recognised and the reply is due.
	PromptMatched
	// Done means the reply has been handed out. Any later prompt marks the
	// exchange as rejected.
	Done
)

func (s PromptState) String() string {
	switch s {
	case AwaitingPrompt:
		return "awaiting-prompt"
	case PromptMatched:
		return "prompt-matched"
	case Done:
		return "done"
	}
	return "unknown"
}

// PromptResponder watches output chunks for a prompt and hands out the
// stored response exactly once. Characters accumulate until a newline, so a
// prompt split across chunks is still recognised.
type PromptResponder struct {
	suffix   string
	response string
	state    PromptState
	buf      strings.Builder
	rejected bool
}

// NewPromptResponder returns a responder that answers suffix with response.
// An empty suffix selects DefaultPromptSuffix.
func NewPromptResponder(suffix, response string) *PromptResponder {
	if suffix == "" {
		suffix = DefaultPromptSuffix
	}
	return &PromptResponder{suffix: suffix, response: response}
}

// State returns the current state.
func (p *PromptResponder) State() PromptState { return p.state }

// Rejected reports whether a prompt showed up again after the response was
// given, which means the remote side did not accept it.
func (p *PromptResponder) Rejected() bool { return p.rejected }

// Feed consumes one chunk of output. It returns the response and true when
// this chunk completed the first prompt; otherwise it returns "", false.
func (p *PromptResponder) Feed(chunk string) (string, bool) {
	reply, replied := "", false
	for _, r := range chunk {
		if r == '\n' {
			p.buf.Reset()
			continue
		}
		p.buf.WriteRune(r)
		if !strings.HasSuffix(p.buf.String(), p.suffix) {
			continue
		}
		p.buf.Reset()
		switch p.state {
		case AwaitingPrompt:
			p.state = PromptMatched
			reply, replied = p.response, true
			p.state = Done
		case Done:
			p.rejected = true
		}
	}
	return reply, replied
}

// Challenge adapts the responder to ssh.KeyboardInteractiveChallenge. Every
// question is fed as output; questions that are not the prompt get an
// empty answer.
func (p *PromptResponder) Challenge(name, instruction string, questions []string, echos []bool) ([]string, error) {
	if instruction != "" {
		p.Feed(instruction + "\n")
	}
	answers := make([]string, len(questions))
	for i, q := range questions {
		if reply, ok := p.Feed(q); ok {
			answers[i] = reply
		}
	}
	return answers, nil
}

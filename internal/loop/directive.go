package loop

import "agentloop/internal/session"

// DirectiveKind tags a Directive.
type DirectiveKind int

const (
	directiveNone DirectiveKind = iota
	DirectiveWork
	DirectiveGenerate
	DirectiveHalt
)

func (k DirectiveKind) String() string {
	switch k {
	case DirectiveWork:
		return "work"
	case DirectiveGenerate:
		return "generate"
	case DirectiveHalt:
		return "halt"
	default:
		return "none"
	}
}

// ParseDirectiveKind is the inverse of DirectiveKind.String.
func ParseDirectiveKind(s string) (DirectiveKind, error) {
	switch s {
	case "work":
		return DirectiveWork, nil
	case "generate":
		return DirectiveGenerate, nil
	case "halt":
		return DirectiveHalt, nil
	case "none":
		return directiveNone, nil
	}
	return directiveNone, parseEnumError("DirectiveKind", s)
}

func (k DirectiveKind) MarshalJSON() ([]byte, error) {
	return marshalEnumJSON(k)
}

func (k *DirectiveKind) UnmarshalJSON(data []byte) error {
	v, err := unmarshalEnumJSON(data, ParseDirectiveKind)
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Directive is the decision function's answer: run a work session, run a
// generation session, or stop. Build one with Work, Generate or Halt.
type Directive struct {
	kind    DirectiveKind
	prompt  string
	options session.Options
	reason  string
	context *string
}

// Work asks for a session that makes progress on the backlog.
func Work(prompt string, opts session.Options) Directive {
	return Directive{kind: DirectiveWork, prompt: prompt, options: opts}
}

// Generate asks for a session that adds new items to the backlog.
func Generate(prompt string, opts session.Options) Directive {
	return Directive{kind: DirectiveGenerate, prompt: prompt, options: opts}
}

// Halt stops the loop.
func Halt(reason string) Directive {
	return Directive{kind: DirectiveHalt, reason: reason}
}

// WithContext returns a copy of d that replaces the carried context string
// for the following iterations.
func (d Directive) WithContext(s string) Directive {
	d.context = &s
	return d
}

func (d Directive) Kind() DirectiveKind      { return d.kind }
func (d Directive) Prompt() string           { return d.prompt }
func (d Directive) Options() session.Options { return d.options }
func (d Directive) Reason() string           { return d.reason }

// Context returns the replacement context, if the directive carries one.
func (d Directive) Context() (string, bool) {
	if d.context == nil {
		return "", false
	}
	return *d.context, true
}

func (d Directive) sessionKind() session.Kind {
	if d.kind == DirectiveGenerate {
		return session.KindGenerate
	}
	return session.KindWork
}

package model

import "context"

// Echo returns the prompt, cut to MaxLength runes. It needs no backend and is
// useful for smoke tests of the serving path.
type Echo struct {
	name string
}

func NewEcho(name string) *Echo {
	if name == "" {
		name = "echo"
	}
	return &Echo{name: name}
}

func (e *Echo) Name() string    { return e.name }
func (e *Echo) Backend() string { return BackendEcho }
func (e *Echo) Close() error    { return nil }

func (e *Echo) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r := []rune(prompt)
	if !p.UnsetMaxLength && p.MaxLength > 0 && len(r) > p.MaxLength {
		r = r[:p.MaxLength]
	}
	return string(r), nil
}

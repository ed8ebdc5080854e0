// Package command resolves saved prompt templates into runnable prompts.
//
// Resolution is a pure read-time transformation: the template is loaded,
// its placeholders are substituted with caller arguments in a single pass,
// and the result is handed to the run layer. Substituted text is never
// rescanned, so arguments cannot inject new placeholders.
package command

import (
	"regexp"
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/shell"

	"github.com/burrowai/burrow/internal/extension"
)

// placeholderRe matches $ARGUMENTS and the positional placeholders $1..$9.
var placeholderRe = regexp.MustCompile(`\$(ARGUMENTS|[1-9])`)

// Resolved is the output of resolving a command template against arguments.
type Resolved struct {
	Prompt       string
	AllowedTools []string
	Model        string
}

// Resolver turns command ids plus raw argument strings into prompts.
type Resolver struct {
	store *extension.Store
}

// NewResolver creates a Resolver over the extension catalog.
func NewResolver(store *extension.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve loads a command and substitutes its placeholders. $ARGUMENTS
// receives the whole raw argument string verbatim; $1..$9 receive
// shell-style tokens, so a quoted argument with spaces stays one positional
// value. Unfilled positionals become empty strings.
func (r *Resolver) Resolve(commandID, rawArguments string) (*Resolved, error) {
	cmd, err := r.store.GetCommand(commandID)
	if err != nil {
		return nil, err
	}

	args := strings.TrimSpace(rawArguments)
	positional := tokenize(args)

	prompt := placeholderRe.ReplaceAllStringFunc(cmd.Body, func(match string) string {
		name := match[1:]
		if name == "ARGUMENTS" {
			return args
		}
		n, _ := strconv.Atoi(name)
		if n <= len(positional) {
			return positional[n-1]
		}
		return ""
	})

	return &Resolved{
		Prompt:       strings.TrimSpace(prompt),
		AllowedTools: cmd.Meta.AllowedTools,
		Model:        cmd.Meta.Model,
	}, nil
}

// tokenize splits an argument string into shell-like fields, honoring
// quotes. If the string does not parse as shell words, plain whitespace
// splitting is the fallback so resolution never fails on odd input.
func tokenize(args string) []string {
	if args == "" {
		return nil
	}
	fields, err := shell.Fields(args, func(string) string { return "" })
	if err != nil {
		return strings.Fields(args)
	}
	return fields
}

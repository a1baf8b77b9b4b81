// Package resolution expands the placeholder grammars used in action
// parameters: [#key#] framework settings, [name] attributes, #name# runtime
// variables and {{ }} concept lookups.
package resolution

import (
	"context"
	"strings"

	"github.com/BKyryl/iesi/pkg/schema"
)

// MaxSubstitutions bounds the concept lookups evaluated for one input.
const MaxSubstitutions = 1000

// Connections serves environment and connection parameters.
type Connections interface {
	EnvironmentParameter(env, name string) (string, bool)
	ConnectionParameter(conn, env, name string) (string, bool)
}

// Datasets serves dataset items.
type Datasets interface {
	Item(dataset, item string) (string, bool, error)
}

// Files serves the first statement of a stored file.
type Files interface {
	FirstStatement(ctx context.Context, key string) (string, bool, error)
}

// Generators dispatches *context(args) instructions.
type Generators interface {
	Generate(ctx context.Context, name, args string) (string, error)
}

// Decrypter expands ENC(...) values.
type Decrypter interface {
	Decrypt(text string) (string, error)
}

// Variables is the read side of a runtime variable namespace.
type Variables interface {
	Get(ctx context.Context, name string) (string, bool, error)
}

// Providers are the external collaborators of a Resolver. Any of them may be
// nil: lookups against a missing provider miss, except generators, whose
// absence is a configuration error.
type Providers struct {
	Connections Connections
	Datasets    Datasets
	Files       Files
	Generators  Generators
	Crypto      Decrypter
}

// Resolver expands parameter text. It holds no per-run state and is safe
// for concurrent use.
type Resolver struct {
	settings map[string]string
	p        Providers
}

// New creates a Resolver over framework settings and providers.
func New(settings map[string]string, p Providers) *Resolver {
	if settings == nil {
		settings = map[string]string{}
	}
	return &Resolver{settings: settings, p: p}
}

// Scope is what one parameter is resolved against.
type Scope struct {
	Env string
	// Attributes feeds [name] markers. A nil map skips the attribute pass.
	Attributes map[string]string
	Variables  Variables
}

// ResolveVariables applies configuration substitution, then runtime variables.
func (r *Resolver) ResolveVariables(ctx context.Context, text string, vars Variables) (string, error) {
	text = ReplaceConfiguration(text, r.settings)
	return replaceRuntime(ctx, text, vars)
}

// ResolveActionVariables applies configuration substitution, attributes and
// then runtime variables.
func (r *Resolver) ResolveActionVariables(ctx context.Context, text string, attrs map[string]string, vars Variables) (string, error) {
	text = ReplaceConfiguration(text, r.settings)
	if attrs != nil {
		var err error
		if text, err = ReplaceAttributes(text, attrs); err != nil {
			return "", err
		}
	}
	return replaceRuntime(ctx, text, vars)
}

// ResolveComponentVariables is ResolveActionVariables with the attributes of
// component valid in env.
func (r *Resolver) ResolveComponentVariables(ctx context.Context, text string, c schema.Component, env string, vars Variables) (string, error) {
	return r.ResolveActionVariables(ctx, text, EnvironmentAttributes(c, env), vars)
}

// Resolve runs the full parameter pipeline: action variables, concept
// lookups and, when a crypto is configured, decryption of ENC(...) values.
func (r *Resolver) Resolve(ctx context.Context, text string, scope Scope) (LookupResult, error) {
	text, err := r.ResolveActionVariables(ctx, text, scope.Attributes, scope.Variables)
	if err != nil {
		return LookupResult{}, err
	}
	res, err := r.ResolveConceptLookup(ctx, text, scope.Env)
	if err != nil {
		return LookupResult{}, err
	}
	if r.p.Crypto != nil {
		if res.Value, err = r.p.Crypto.Decrypt(res.Value); err != nil {
			return LookupResult{}, err
		}
	}
	return res, nil
}

// ResolveConceptLookup evaluates {{ }} instructions innermost first, writing
// each result over the exact span it came from, until none remain.
func (r *Resolver) ResolveConceptLookup(ctx context.Context, text, env string) (LookupResult, error) {
	var tag string
	for n := 0; ; n++ {
		sp, ok := innermostSpan(text, "{{", "}}")
		if !ok {
			return LookupResult{Tag: tag, Value: text}, nil
		}
		if n == MaxSubstitutions {
			return LookupResult{}, schema.NewErrorf(schema.ErrCodeLookup,
				"concept lookup exceeded %d substitutions", MaxSubstitutions)
		}
		res, err := r.evaluate(ctx, strings.TrimSpace(sp.inner(text)), env)
		if err != nil {
			return LookupResult{}, err
		}
		if res.Tag != "" {
			tag = res.Tag
		}
		text = text[:sp.start] + res.Value + text[sp.end:]
	}
}

func (r *Resolver) evaluate(ctx context.Context, text, env string) (LookupResult, error) {
	in, ok := parseInstruction(text)
	if !ok {
		return LookupResult{Value: text}, nil
	}
	switch in.kind {
	case kindLookup:
		v, err := r.lookup(ctx, in, env)
		return LookupResult{Value: v}, err
	case kindGenerate:
		if r.p.Generators == nil {
			return LookupResult{}, schema.NewErrorf(schema.ErrCodeConfiguration,
				"no generator registered for %q", in.context)
		}
		v, err := r.p.Generators.Generate(ctx, in.context, strings.TrimSpace(in.args))
		return LookupResult{Value: v}, err
	case kindLiteral:
		return LookupResult{Tag: strings.ToLower(in.context), Value: unquote(strings.TrimSpace(in.args))}, nil
	default:
		return LookupResult{Value: text}, nil
	}
}

func (r *Resolver) lookup(ctx context.Context, in instruction, env string) (string, error) {
	args := splitArgs(in.args)
	raw := strings.TrimSpace(in.args)

	switch strings.ToLower(in.context) {
	case "conn", "connection":
		if r.p.Connections == nil || len(args) < 2 {
			return raw, nil
		}
		if v, ok := r.p.Connections.ConnectionParameter(args[0], env, args[1]); ok {
			return v, nil
		}
	case "env", "environment":
		if r.p.Connections == nil || len(args) < 2 {
			return raw, nil
		}
		if v, ok := r.p.Connections.EnvironmentParameter(args[0], args[1]); ok {
			return v, nil
		}
	case "ds", "dataset":
		if r.p.Datasets == nil || len(args) < 2 {
			return raw, nil
		}
		v, ok, err := r.p.Datasets.Item(args[0], args[1])
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeLookup, "dataset %q: %v", args[0], err).WithCause(err)
		}
		if ok {
			return v, nil
		}
	case "f", "file":
		if r.p.Files == nil || args[0] == "" {
			return raw, nil
		}
		v, ok, err := r.p.Files.FirstStatement(ctx, args[0])
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeLookup, "file %q: %v", args[0], err).WithCause(err)
		}
		if ok {
			return v, nil
		}
	case "coalesce", "ifnull", "nvl":
		for _, a := range args {
			if a != "" {
				return a, nil
			}
		}
		return "", nil
	default:
		return string(kindLookup) + in.context + "(" + in.args + ")", nil
	}
	return raw, nil
}

func replaceRuntime(ctx context.Context, text string, vars Variables) (string, error) {
	if vars == nil {
		return text, nil
	}
	var firstErr error
	out := ReplaceVariables(text, func(name string) (string, bool) {
		if firstErr != nil {
			return "", false
		}
		v, ok, err := vars.Get(ctx, name)
		if err != nil {
			firstErr = err
			return "", false
		}
		return v, ok
	})
	if firstErr != nil {
		return "", schema.NewError(schema.ErrCodeLookup, "read runtime variable").WithCause(firstErr)
	}
	return out, nil
}

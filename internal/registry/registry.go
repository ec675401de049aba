package registry

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/mxcp-io/mxcp-core/internal/policy"
)

// CompiledEndpoint bundles an EndpointDefinition with its policy rules
// compiled against this reload generation's CEL environment (spec.md §4.9:
// "treat compiled policies as part of the ReloadGeneration").
type CompiledEndpoint struct {
	Definition    *EndpointDefinition
	InputRules    []*policy.CompiledRule
	OutputRules   []*policy.CompiledRule
	SensitiveIn   map[string]struct{}
	SensitiveOut  map[string]struct{}
}

// Registry is the immutable catalog for one ReloadGeneration. It is built
// once via Load and never mutated; a reload builds a brand new Registry and
// atomically swaps it in (internal/reload).
type Registry struct {
	byKindAndName map[Kind]map[string]*CompiledEndpoint
}

// key identifies a duplicate for fail-closed load detection.
type key struct {
	kind Kind
	name string
}

// Load walks dir for *.yml/*.yaml files, parses each as one endpoint
// definition, compiles its policies, and returns the resulting Registry.
// Any parse error, duplicate (kind, name) pair, or policy compile error
// fails the entire load (spec.md §4.1: "ambiguous or duplicate names fail
// the load entirely").
func Load(dir string, evaluator *policy.Evaluator) (*Registry, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yml" || ext == ".yaml" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("registry: walking %s: %w", dir, err)
	}

	reg := &Registry{byKindAndName: map[Kind]map[string]*CompiledEndpoint{
		KindTool:     {},
		KindResource: {},
		KindPrompt:   {},
	}}

	seen := map[key]string{}

	for _, path := range files {
		data, err := readFileFn(path)
		if err != nil {
			return nil, fmt.Errorf("registry: reading %s: %w", path, err)
		}

		def, err := ParseDocument(data)
		if err != nil {
			return nil, fmt.Errorf("registry: %s: %w", path, err)
		}

		k := key{kind: def.Kind, name: def.Name}
		if prior, dup := seen[k]; dup {
			return nil, fmt.Errorf("registry: duplicate %s %q defined in both %s and %s", def.Kind, def.Name, prior, path)
		}
		seen[k] = path

		compiled, err := compile(evaluator, def)
		if err != nil {
			return nil, fmt.Errorf("registry: %s: %w", path, err)
		}

		reg.byKindAndName[def.Kind][def.Name] = compiled
	}

	return reg, nil
}

// readFileFn is a package variable so tests can substitute an in-memory
// filesystem without shelling out to os.ReadFile directly in Load.
var readFileFn = defaultReadFile

func compile(evaluator *policy.Evaluator, def *EndpointDefinition) (*CompiledEndpoint, error) {
	inputRules, err := evaluator.CompileInput(def.Name, def.ParamNames(), def.InputPolicies)
	if err != nil {
		return nil, err
	}
	outputRules, err := evaluator.CompileOutput(def.Name, def.OutputPolicies)
	if err != nil {
		return nil, err
	}
	return &CompiledEndpoint{
		Definition:   def,
		InputRules:   inputRules,
		OutputRules:  outputRules,
		SensitiveIn:  def.SensitiveParamNames(),
		SensitiveOut: def.SensitiveFieldNames(),
	}, nil
}

// Lookup returns the compiled endpoint for (kind, name), or ok=false if no
// such endpoint is loaded in this generation.
func (r *Registry) Lookup(kind Kind, name string) (*CompiledEndpoint, bool) {
	m, ok := r.byKindAndName[kind]
	if !ok {
		return nil, false
	}
	ep, ok := m[name]
	return ep, ok
}

// List returns every compiled endpoint of the given kind, in no particular
// order.
func (r *Registry) List(kind Kind) []*CompiledEndpoint {
	m := r.byKindAndName[kind]
	out := make([]*CompiledEndpoint, 0, len(m))
	for _, ep := range m {
		out = append(out, ep)
	}
	return out
}

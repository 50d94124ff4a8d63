package primitive

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tmom/playbook/internal/rule"
	"github.com/tmom/playbook/internal/snapshot"
)

// ParamType tags the expected shape of a primitive parameter.
type ParamType string

const (
	TypeString     ParamType = "string"
	TypeNumber     ParamType = "number"
	TypeOp         ParamType = "op"
	TypeStringList ParamType = "string_list"
)

// ParamSpec declares one parameter of a primitive kind.
type ParamSpec struct {
	Name     string
	Type     ParamType
	Required bool
}

// EvalFunc is the evaluation contract every primitive conforms to:
// a pure function of validated params and the immutable snapshot.
type EvalFunc func(params rule.Object, snap *snapshot.Snapshot) (Result, error)

// Spec is a registry entry: a primitive kind, its parameter contract,
// and its evaluation function.
type Spec struct {
	Kind string

	// Params is the declared parameter contract, validated before Eval.
	Params []ParamSpec

	// Contexts names the snapshot sections the kind reads
	// ("market", "account", "history", "time"). Informational.
	Contexts []string

	// Numeric reports whether results carry a numeric value, which
	// makes the kind eligible for threshold conditions.
	Numeric bool

	// Stateful marks kinds whose results depend on prior cycles. All
	// builtin kinds are stateless; the fsm resolver owns the stateful
	// side and does not register here.
	Stateful bool

	Eval EvalFunc
}

// Result is the immutable product of one primitive evaluation.
type Result struct {
	// Ref is the rule-local reference id this result answers.
	Ref string `json:"ref"`

	Kind string `json:"kind"`

	// Bool is the predicate outcome: whether the condition holds.
	Bool bool `json:"bool"`

	// Value carries the numeric observation (left operand, count,
	// accumulated total) when Numeric is true.
	Value   float64 `json:"value,omitempty"`
	Numeric bool    `json:"numeric,omitempty"`

	// Unit tags the numeric value ("count", "number", "percent").
	Unit string `json:"unit,omitempty"`

	// SnapshotSeq and At trace the result to exactly one snapshot.
	SnapshotSeq int64 `json:"snapshot_seq"`
	At          int64 `json:"at"`

	// ParamsHash is the content-addressed identity of (kind, params).
	ParamsHash string `json:"params_hash"`
}

// Registry maps primitive kinds to their specs.
// Not safe for concurrent registration; register everything up front.
type Registry struct {
	specs map[string]Spec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]Spec)}
}

// Register adds a spec. Returns *DuplicateKindError if the kind is
// already present.
func (r *Registry) Register(spec Spec) error {
	if spec.Kind == "" {
		return fmt.Errorf("register: empty primitive kind")
	}
	if spec.Eval == nil {
		return fmt.Errorf("register %s: nil eval func", spec.Kind)
	}
	if _, exists := r.specs[spec.Kind]; exists {
		return &DuplicateKindError{Kind: spec.Kind}
	}
	r.specs[spec.Kind] = spec
	return nil
}

// Spec returns the spec for a kind.
func (r *Registry) Spec(kind string) (Spec, bool) {
	s, ok := r.specs[kind]
	return s, ok
}

// Kinds returns all registered kinds, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.specs))
	for k := range r.specs {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Evaluate dispatches a primitive reference against a snapshot.
//
// Error taxonomy:
//   - *UnknownKindError: kind not registered
//   - *InvalidParamsError: params fail the spec's contract
//   - *EvaluationError: the evaluator could not compute from this
//     snapshot (e.g. referenced field absent)
func (r *Registry) Evaluate(ref rule.PrimitiveRef, snap *snapshot.Snapshot) (Result, error) {
	spec, ok := r.specs[ref.Kind]
	if !ok {
		return Result{}, &UnknownKindError{Kind: ref.Kind}
	}

	if err := validateParams(spec, ref); err != nil {
		return Result{}, err
	}

	hash, err := rule.ParamsHash(ref.Kind, ref.Params)
	if err != nil {
		return Result{}, &InvalidParamsError{Kind: ref.Kind, Ref: ref.ID, Reason: err.Error()}
	}

	res, err := spec.Eval(ref.Params, snap)
	if err != nil {
		// Evaluators identify their kind but not the referencing rule's
		// ref id; stamp it here so the error names its caller.
		var ee *EvaluationError
		if errors.As(err, &ee) {
			ee.Ref = ref.ID
		}
		return Result{}, err
	}

	res.Ref = ref.ID
	res.Kind = ref.Kind
	res.SnapshotSeq = snap.Seq()
	res.At = snap.At()
	res.ParamsHash = hash
	return res, nil
}

// validateParams checks the reference against the spec's declared
// parameter contract: required fields present, present fields typed.
func validateParams(spec Spec, ref rule.PrimitiveRef) error {
	var missing []string
	for _, p := range spec.Params {
		v, present := ref.Params[p.Name]
		if !present {
			if p.Required {
				missing = append(missing, p.Name)
			}
			continue
		}
		if err := checkParamType(p, v); err != nil {
			return &InvalidParamsError{Kind: spec.Kind, Ref: ref.ID, Reason: err.Error()}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &InvalidParamsError{Kind: spec.Kind, Ref: ref.ID, Missing: missing}
	}
	return nil
}

func checkParamType(p ParamSpec, v rule.Value) error {
	switch p.Type {
	case TypeString:
		if _, ok := rule.AsString(v); !ok {
			return fmt.Errorf("param %q: want string, got %T", p.Name, v)
		}
	case TypeNumber:
		if _, ok := rule.AsFloat(v); !ok {
			return fmt.Errorf("param %q: want number, got %T", p.Name, v)
		}
	case TypeOp:
		s, ok := rule.AsString(v)
		if !ok || !rule.Op(s).Valid() {
			return fmt.Errorf("param %q: want comparison operator, got %v", p.Name, v)
		}
	case TypeStringList:
		if _, ok := rule.AsStrings(v); !ok {
			return fmt.Errorf("param %q: want list of strings, got %T", p.Name, v)
		}
	default:
		return fmt.Errorf("param %q: unknown param type %q", p.Name, p.Type)
	}
	return nil
}

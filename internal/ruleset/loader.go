package ruleset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/tmom/playbook/internal/rule"
)

// Load error codes.
const (
	ErrCodeNotFound    = "RS001" // playbook directory missing
	ErrCodeScanError   = "RS002" // directory scan failed
	ErrCodeNoFiles     = "RS003" // no CUE files present
	ErrCodeLoadFailed  = "RS004" // CUE load failed
	ErrCodeBuildFailed = "RS005" // CUE build failed
	ErrCodeCompile     = "RS006" // rule compilation failed
	ErrCodeInvalid     = "RS007" // rule failed validation
	ErrCodeGeneric     = "RS099"
)

// LoadMode controls how errors are handled during playbook loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadError represents an error that occurred during playbook loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Set is a loaded playbook: its user rules plus the bookkeeping the
// CLI reports. Safety rules are not part of the Set; the engine caller
// prepends them explicitly.
type Set struct {
	Name      string
	Rules     []rule.Definition
	CUEValue  cue.Value
	FileCount int
}

// Load reads all CUE files under dir and compiles the playbook they
// declare. Rules live under the playbook.rule struct, one field per
// rule id, e.g.:
//
//	playbook: {
//	    name: "fomc-day"
//	    rule: max_drawdown: { ... }
//	    rule: no_revenge_trading: { ... }
//	}
//
// In LoadModeFailFast the first error aborts; in LoadModeCollectAll
// every rule is attempted and all errors come back together.
func Load(dir string, mode LoadMode) (*Set, []error) {
	var errs []error

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("playbook directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing playbook directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	// Package "_" loads the anonymous package: playbook files carry no
	// package clause.
	cfg := &load.Config{Dir: dir, Package: "_"}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	set := &Set{
		CUEValue:  value,
		FileCount: len(cueFiles),
	}

	playbook := value.LookupPath(cue.ParsePath("playbook"))
	if !playbook.Exists() {
		return set, []error{&LoadError{Code: ErrCodeBuildFailed, Message: "no playbook declared"}}
	}

	if nameVal := playbook.LookupPath(cue.ParsePath("name")); nameVal.Exists() {
		if name, err := nameVal.String(); err == nil {
			set.Name = name
		}
	}

	rulesVal := playbook.LookupPath(cue.ParsePath("rule"))
	if rulesVal.Exists() {
		iter, iterErr := rulesVal.Fields()
		if iterErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating rules: %v", iterErr)})
			if mode == LoadModeFailFast {
				return set, errs
			}
		} else {
			for iter.Next() {
				def, compileErr := CompileRule(iter.Value())
				if compileErr != nil {
					errs = append(errs, convertCompileError(compileErr, "playbook.rule."+iter.Label()))
					if mode == LoadModeFailFast {
						return set, errs
					}
					continue
				}
				set.Rules = append(set.Rules, def)
			}
		}
	}

	if len(errs) > 0 {
		return set, errs
	}
	return set, nil
}

// FindCUEFiles returns all .cue files under dir, recursively.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compile error to a LoadError with
// position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeCompile,
			Message: fmt.Sprintf("%s: %s: %s", context, compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

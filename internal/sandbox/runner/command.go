package runner

import (
	"path/filepath"
	"strings"

	appErr "coderunner/pkg/errors"

	"github.com/google/shlex"
)

// templateVars holds the placeholder values for command templates.
type templateVars struct {
	src   string
	bin   string
	dir   string
	class string
}

func newTemplateVars(dir, sourceFile, binaryFile, class string) templateVars {
	vars := templateVars{
		src:   filepath.Join(dir, sourceFile),
		dir:   dir,
		class: class,
	}
	if binaryFile != "" {
		vars.bin = filepath.Join(dir, binaryFile)
	}
	return vars
}

func (v templateVars) expand(s string) string {
	return strings.NewReplacer(
		"{src}", v.src,
		"{bin}", v.bin,
		"{dir}", v.dir,
		"{class}", v.class,
	).Replace(s)
}

// buildCommand splits the template first and substitutes per token, so a
// workspace path with spaces stays one argument.
func buildCommand(tpl string, vars templateVars) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	fields, err := shlex.Split(tpl)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	for i, f := range fields {
		fields[i] = vars.expand(f)
	}
	return fields, nil
}

// buildEnv returns base followed by the profile entries, with placeholders
// expanded. Later entries win when the helper installs them.
func buildEnv(base, extra []string, vars templateVars) []string {
	env := make([]string, 0, len(base)+len(extra))
	env = append(env, base...)
	for _, kv := range extra {
		env = append(env, vars.expand(kv))
	}
	return env
}

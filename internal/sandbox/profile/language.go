// Package profile defines language profiles and the registry that serves them.
package profile

import (
	"path/filepath"
	"regexp"
	"strings"

	"coderunner/internal/sandbox/spec"
)

// LanguageProfile defines how to compile and run a language.
type LanguageProfile struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
	// SourceFile is the default source name, e.g. "main.cpp" or "Solution.java".
	SourceFile string `yaml:"sourceFile" json:"sourceFile"`
	BinaryFile string `yaml:"binaryFile" json:"binaryFile,omitempty"`
	// EntryPointPattern derives the source stem from the code, e.g. the Java public class.
	EntryPointPattern string               `yaml:"entryPointPattern" json:"-"`
	CompileCmd        string               `yaml:"compileCmd" json:"-"`
	RunCmd            string               `yaml:"runCmd" json:"-"`
	Env               []string             `yaml:"env" json:"-"`
	ExtraFiles        map[string]string    `yaml:"extraFiles" json:"-"`
	DefaultLimits     spec.ExecutionLimits `yaml:"defaultLimits" json:"defaultLimits"`
	CompileLimits     spec.ExecutionLimits `yaml:"compileLimits" json:"-"`
	TimeMultiplier    float64              `yaml:"timeMultiplier" json:"timeMultiplier,omitempty"`
	MemoryMultiplier  float64              `yaml:"memoryMultiplier" json:"memoryMultiplier,omitempty"`
	LimitAddressSpace bool                 `yaml:"limitAddressSpace" json:"-"`

	entryPoint *regexp.Regexp
}

// Compiled reports whether the language has a compile step.
func (p LanguageProfile) Compiled() bool {
	return strings.TrimSpace(p.CompileCmd) != ""
}

// SourceName returns the file name the source is written to and its stem.
// With an entry-point pattern the first capture group of the first match
// replaces the stem of SourceFile.
func (p LanguageProfile) SourceName(source string) (string, string) {
	ext := filepath.Ext(p.SourceFile)
	stem := strings.TrimSuffix(p.SourceFile, ext)
	if p.entryPoint != nil {
		if m := p.entryPoint.FindStringSubmatch(source); len(m) > 1 && m[1] != "" {
			stem = m[1]
		}
	}
	return stem + ext, stem
}

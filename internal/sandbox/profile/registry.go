package profile

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	appErr "coderunner/pkg/errors"
)

// Registry is an immutable lookup of language profiles. It is built once at
// startup and safe for concurrent reads without locking.
type Registry struct {
	languages map[string]LanguageProfile
	ids       []string
}

// NewRegistry validates the profiles and builds a registry.
func NewRegistry(languages []LanguageProfile) (*Registry, error) {
	langMap := make(map[string]LanguageProfile, len(languages))
	ids := make([]string, 0, len(languages))
	for i, lang := range languages {
		if strings.TrimSpace(lang.ID) == "" {
			return nil, appErr.ValidationError(fmt.Sprintf("languages[%d].id", i), "required")
		}
		key := normalizeID(lang.ID)
		if _, exists := langMap[key]; exists {
			return nil, appErr.ValidationError(fmt.Sprintf("languages[%d].id", i), "duplicate language "+lang.ID)
		}
		if strings.TrimSpace(lang.RunCmd) == "" {
			return nil, appErr.ValidationError(lang.ID+".runCmd", "required")
		}
		if strings.TrimSpace(lang.SourceFile) == "" {
			return nil, appErr.ValidationError(lang.ID+".sourceFile", "required")
		}
		if lang.EntryPointPattern != "" {
			re, err := regexp.Compile(lang.EntryPointPattern)
			if err != nil {
				return nil, appErr.Wrapf(err, appErr.InvalidFormat, "%s.entryPointPattern is invalid", lang.ID)
			}
			if re.NumSubexp() < 1 {
				return nil, appErr.ValidationError(lang.ID+".entryPointPattern", "needs one capture group")
			}
			lang.entryPoint = re
		}
		langMap[key] = lang.clone()
		ids = append(ids, lang.ID)
	}
	sort.Strings(ids)
	return &Registry{languages: langMap, ids: ids}, nil
}

// Resolve returns the profile for a language id. Unknown ids fail with
// UnsupportedLanguage and are never mapped to a default.
func (r *Registry) Resolve(id string) (LanguageProfile, error) {
	if strings.TrimSpace(id) == "" {
		return LanguageProfile{}, appErr.New(appErr.UnsupportedLanguage).WithMessage("language is required")
	}
	lang, ok := r.languages[normalizeID(id)]
	if !ok {
		return LanguageProfile{}, appErr.Newf(appErr.UnsupportedLanguage, "language not supported: %s", id).
			WithDetail("language", id)
	}
	return lang.clone(), nil
}

// IDs returns the supported language ids in sorted order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}

// Profiles returns every profile sorted by id.
func (r *Registry) Profiles() []LanguageProfile {
	out := make([]LanguageProfile, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.languages[normalizeID(id)].clone())
	}
	return out
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func (p LanguageProfile) clone() LanguageProfile {
	p.Env = append([]string(nil), p.Env...)
	if p.ExtraFiles != nil {
		files := make(map[string]string, len(p.ExtraFiles))
		for name, content := range p.ExtraFiles {
			files[name] = content
		}
		p.ExtraFiles = files
	}
	return p
}

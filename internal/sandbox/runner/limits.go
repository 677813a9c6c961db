package runner

import (
	"math"

	"coderunner/internal/sandbox/profile"
	"coderunner/internal/sandbox/spec"
	appErr "coderunner/pkg/errors"
)

// resolveLimits layers global defaults, profile defaults and the submission
// override, then applies the language multipliers. The override is checked
// against the ceiling before anything is merged.
func (r *Runner) resolveLimits(lang profile.LanguageProfile, override *spec.ExecutionLimits) (spec.ExecutionLimits, error) {
	var o spec.ExecutionLimits
	if override != nil {
		o = *override
	}
	if err := r.checkCeiling(o); err != nil {
		return spec.ExecutionLimits{}, err
	}
	limits := r.opts.DefaultLimits.Merge(lang.DefaultLimits).Merge(o)
	limits = applyMultipliers(limits, lang)
	if err := limits.Resolved(); err != nil {
		return spec.ExecutionLimits{}, appErr.Wrapf(err, appErr.LimitUnresolved, "limits for %s are incomplete", lang.ID)
	}
	return limits, nil
}

// compileLimits resolves the compile step limits. Submissions cannot
// override them.
func (r *Runner) compileLimits(lang profile.LanguageProfile) (spec.ExecutionLimits, error) {
	limits := r.opts.CompileLimits.Merge(lang.CompileLimits)
	if err := limits.Resolved(); err != nil {
		return spec.ExecutionLimits{}, appErr.Wrapf(err, appErr.LimitUnresolved, "compile limits for %s are incomplete", lang.ID)
	}
	return limits, nil
}

func (r *Runner) checkCeiling(override spec.ExecutionLimits) error {
	if field := override.ExceedsCeiling(r.opts.Ceiling); field != "" {
		return appErr.Newf(appErr.LimitCeilingExceeded, "limit override %s exceeds the configured ceiling", field).
			WithDetail("field", field)
	}
	return nil
}

func applyMultipliers(limits spec.ExecutionLimits, lang profile.LanguageProfile) spec.ExecutionLimits {
	limits.CPUTimeMs = scaleLimit(limits.CPUTimeMs, lang.TimeMultiplier)
	limits.WallTimeMs = scaleLimit(limits.WallTimeMs, lang.TimeMultiplier)
	limits.MemoryBytes = scaleLimit(limits.MemoryBytes, lang.MemoryMultiplier)
	return limits
}

func scaleLimit(value int64, multiplier float64) int64 {
	if value <= 0 {
		return 0
	}
	if multiplier <= 0 {
		return value
	}
	return int64(math.Ceil(float64(value) * multiplier))
}

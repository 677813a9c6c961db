package result

// Classify maps compile and run outcomes to a Kind. It is pure: equal inputs
// always yield the same Kind.
//
// A failed compile wins over everything. A run that hit a limit reports that
// limit, with time before memory before output. Only then do a breached
// process cap, a signal or a non-zero exit count as a runtime error. A nil compile means the language
// has no compile step; a nil run after a clean compile is an internal error.
func Classify(compile, run *ExecutionOutcome) Kind {
	if compile != nil && compile.Failed() {
		return KindCompileError
	}
	if run == nil {
		return KindInternalError
	}
	switch run.Exceeded() {
	case LimitTime:
		return KindTimeLimitExceeded
	case LimitMemory:
		return KindMemoryLimitExceeded
	case LimitOutput:
		return KindOutputLimitExceeded
	case LimitProcesses:
		return KindRuntimeError
	}
	if run.Signal != "" || run.ExitCode != 0 {
		return KindRuntimeError
	}
	return KindAccepted
}

// Overall folds per-test kinds into one: the first non-accepted kind wins.
func Overall(tests []TestResult) Kind {
	for _, t := range tests {
		if t.Kind != KindAccepted {
			return t.Kind
		}
	}
	if len(tests) == 0 {
		return KindInternalError
	}
	return KindAccepted
}

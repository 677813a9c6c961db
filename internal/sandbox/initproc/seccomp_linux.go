//go:build linux

package initproc

import (
	"fmt"
	"strings"

	seccomp "github.com/elastic/go-seccomp-bpf"
)

// Policy converts the profile into a seccomp policy.
func (p SeccompProfile) Policy() (seccomp.Policy, error) {
	defaultAction, err := parseSeccompAction(p.DefaultAction)
	if err != nil {
		return seccomp.Policy{}, err
	}
	policy := seccomp.Policy{DefaultAction: defaultAction}
	for i, rule := range p.Syscalls {
		if len(rule.Names) == 0 {
			return seccomp.Policy{}, fmt.Errorf("syscalls[%d]: names are required", i)
		}
		action, err := parseSeccompAction(rule.Action)
		if err != nil {
			return seccomp.Policy{}, fmt.Errorf("syscalls[%d]: %w", i, err)
		}
		policy.Syscalls = append(policy.Syscalls, seccomp.SyscallGroup{
			Names:  append([]string(nil), rule.Names...),
			Action: action,
		})
	}
	return policy, nil
}

// Validate assembles the policy without loading it.
func (p SeccompProfile) Validate() error {
	policy, err := p.Policy()
	if err != nil {
		return err
	}
	if _, err := policy.Assemble(); err != nil {
		return fmt.Errorf("assemble seccomp policy: %w", err)
	}
	return nil
}

func loadSeccomp(p SeccompProfile) error {
	policy, err := p.Policy()
	if err != nil {
		return err
	}
	return seccomp.LoadFilter(seccomp.Filter{
		NoNewPrivs: true,
		Policy:     policy,
	})
}

func parseSeccompAction(action string) (seccomp.Action, error) {
	normalized := strings.ToLower(strings.TrimPrefix(strings.ToUpper(action), "SCMP_ACT_"))
	switch normalized {
	case "allow":
		return seccomp.ActionAllow, nil
	case "errno":
		return seccomp.ActionErrno, nil
	case "kill", "kill_process":
		return seccomp.ActionKillProcess, nil
	case "kill_thread":
		return seccomp.ActionKillThread, nil
	case "trap":
		return seccomp.ActionTrap, nil
	default:
		return seccomp.ActionKillProcess, fmt.Errorf("unsupported seccomp action: %s", action)
	}
}

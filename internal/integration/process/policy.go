package process

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/dshills/tasksmith/internal/integration/task"
)

// PolicyConfig configures which spawns are refused.
type PolicyConfig struct {
	// BlockedCommands are executables that may never be the first word of a
	// task command. Matching ignores case and any directory.
	BlockedCommands []string

	// BlockedPatterns are regular expressions matched against the full
	// command line.
	BlockedPatterns []string

	// MaxCommandLength limits the full command line. Zero disables the check.
	MaxCommandLength int

	// RestrictWorkingDir refuses working directories outside WorkspaceRoot.
	RestrictWorkingDir bool

	// WorkspaceRoot is the directory RestrictWorkingDir checks against.
	WorkspaceRoot string
}

// DefaultPolicyConfig blocks privilege escalation, machine shutdown and
// whole-disk tools.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		BlockedCommands: []string{
			"sudo", "su", "doas", "pkexec",
			"shutdown", "reboot", "halt", "poweroff",
			"mkfs", "fdisk", "dd",
		},
		BlockedPatterns: []string{
			`rm\s+(-[a-zA-Z]*\s+)*(/|~)(\s|$)`,
			`>\s*/etc/`,
		},
		MaxCommandLength: 8192,
	}
}

// ViolationCode identifies the kind of policy violation.
type ViolationCode string

const (
	ViolationBlockedCommand    ViolationCode = "blocked_command"
	ViolationBlockedPattern    ViolationCode = "blocked_pattern"
	ViolationCommandTooLong    ViolationCode = "command_too_long"
	ViolationEmptyCommand      ViolationCode = "empty_command"
	ViolationRestrictedWorkDir ViolationCode = "restricted_workdir"
)

// PolicyViolation is one reason a spawn was refused.
type PolicyViolation struct {
	Code    ViolationCode
	Message string
	Details string
}

func (v *PolicyViolation) Error() string {
	if v.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", v.Code, v.Message, v.Details)
	}
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

// Is makes errors.Is(err, ErrPolicyViolation) hold for every violation.
func (v *PolicyViolation) Is(target error) bool {
	return target == ErrPolicyViolation
}

// Policy checks spawn payloads before they run. It is safe for concurrent
// use.
type Policy struct {
	mu       sync.RWMutex
	config   PolicyConfig
	patterns []*regexp.Regexp
}

// NewPolicy compiles config. Invalid patterns are reported as an error.
func NewPolicy(config PolicyConfig) (*Policy, error) {
	p := &Policy{}
	if err := p.Update(config); err != nil {
		return nil, err
	}
	return p, nil
}

// Update replaces the configuration.
func (p *Policy) Update(config PolicyConfig) error {
	patterns := make([]*regexp.Regexp, 0, len(config.BlockedPatterns))
	var errs []error
	for _, pattern := range config.BlockedPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("blocked pattern %q: %w", pattern, err))
			continue
		}
		patterns = append(patterns, re)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	p.mu.Lock()
	p.config = config
	p.patterns = patterns
	p.mu.Unlock()
	return nil
}

// Check returns nil if spawn may run, or the joined violations.
func (p *Policy) Check(spawn *task.SpawnInTerminal) error {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	config := p.config
	patterns := p.patterns
	p.mu.RUnlock()

	if strings.TrimSpace(spawn.Command) == "" {
		return &PolicyViolation{Code: ViolationEmptyCommand, Message: "task has no command"}
	}

	var violations []error
	full := commandLine(spawn.Command, spawn.Args)

	if config.MaxCommandLength > 0 && len(full) > config.MaxCommandLength {
		violations = append(violations, &PolicyViolation{
			Code:    ViolationCommandTooLong,
			Message: "command exceeds maximum length",
			Details: fmt.Sprintf("length=%d, max=%d", len(full), config.MaxCommandLength),
		})
	}

	base := filepath.Base(strings.Fields(spawn.Command)[0])
	for _, blocked := range config.BlockedCommands {
		if strings.EqualFold(base, blocked) {
			violations = append(violations, &PolicyViolation{
				Code:    ViolationBlockedCommand,
				Message: fmt.Sprintf("command %q is blocked", blocked),
			})
		}
	}

	for _, re := range patterns {
		if re.MatchString(full) {
			violations = append(violations, &PolicyViolation{
				Code:    ViolationBlockedPattern,
				Message: "command matches blocked pattern",
				Details: re.String(),
			})
		}
	}

	if config.RestrictWorkingDir && config.WorkspaceRoot != "" && spawn.Cwd != "" &&
		!isPathWithin(spawn.Cwd, config.WorkspaceRoot) {
		violations = append(violations, &PolicyViolation{
			Code:    ViolationRestrictedWorkDir,
			Message: "working directory outside workspace",
			Details: fmt.Sprintf("cwd=%q, workspace=%q", spawn.Cwd, config.WorkspaceRoot),
		})
	}

	return errors.Join(violations...)
}

// isPathWithin reports whether path is base or below it.
func isPathWithin(path, base string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absBase, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ErrPolicyViolation matches every PolicyViolation.
var ErrPolicyViolation = errors.New("policy violation")

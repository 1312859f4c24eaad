package process

import (
	"errors"
	"strings"
	"testing"

	"github.com/dshills/tasksmith/internal/integration/task"
)

func violationCodes(err error) []ViolationCode {
	var codes []ViolationCode
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		if v, ok := err.(*PolicyViolation); ok {
			codes = append(codes, v.Code)
			return
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				walk(e)
			}
		}
	}
	walk(err)
	return codes
}

func TestPolicy_Check(t *testing.T) {
	root := t.TempDir()
	config := DefaultPolicyConfig()
	config.MaxCommandLength = 64
	config.RestrictWorkingDir = true
	config.WorkspaceRoot = root

	policy, err := NewPolicy(config)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		spawn task.SpawnInTerminal
		want  []ViolationCode
	}{
		{"allowed", task.SpawnInTerminal{Command: "go", Args: []string{"test", "./..."}, Cwd: root}, nil},
		{"no cwd", task.SpawnInTerminal{Command: "make"}, nil},
		{"empty", task.SpawnInTerminal{Command: "  "}, []ViolationCode{ViolationEmptyCommand}},
		{"sudo", task.SpawnInTerminal{Command: "sudo", Args: []string{"make"}}, []ViolationCode{ViolationBlockedCommand}},
		{"sudo path", task.SpawnInTerminal{Command: "/usr/bin/SUDO make"}, []ViolationCode{ViolationBlockedCommand}},
		{"rm root", task.SpawnInTerminal{Command: "rm -rf /"}, []ViolationCode{ViolationBlockedPattern}},
		{"rm subdir", task.SpawnInTerminal{Command: "rm -rf /tmp/build"}, nil},
		{"etc", task.SpawnInTerminal{Command: "echo x > /etc/hosts"}, []ViolationCode{ViolationBlockedPattern}},
		{"too long", task.SpawnInTerminal{Command: "echo " + strings.Repeat("a", 80)}, []ViolationCode{ViolationCommandTooLong}},
		{"outside", task.SpawnInTerminal{Command: "ls", Cwd: "/"}, []ViolationCode{ViolationRestrictedWorkDir}},
		{"sibling prefix", task.SpawnInTerminal{Command: "ls", Cwd: root + "-other"}, []ViolationCode{ViolationRestrictedWorkDir}},
		{"inside", task.SpawnInTerminal{Command: "ls", Cwd: root + "/sub"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := policy.Check(&tt.spawn)
			got := violationCodes(err)
			if len(got) != len(tt.want) {
				t.Fatalf("Check() = %v, want codes %v", err, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("code[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
			if len(tt.want) > 0 && !errors.Is(err, ErrPolicyViolation) {
				t.Error("violations should match ErrPolicyViolation")
			}
		})
	}
}

func TestPolicy_NilAllowsAll(t *testing.T) {
	var p *Policy
	if err := p.Check(&task.SpawnInTerminal{Command: "sudo"}); err != nil {
		t.Errorf("nil policy Check() = %v", err)
	}
}

func TestPolicy_InvalidPattern(t *testing.T) {
	_, err := NewPolicy(PolicyConfig{BlockedPatterns: []string{"("}})
	if err == nil {
		t.Fatal("NewPolicy() should reject an invalid pattern")
	}
}

func TestPolicy_Update(t *testing.T) {
	p, err := NewPolicy(PolicyConfig{})
	if err != nil {
		t.Fatal(err)
	}
	spawn := &task.SpawnInTerminal{Command: "docker", Args: []string{"ps"}}
	if err := p.Check(spawn); err != nil {
		t.Fatalf("Check() = %v before update", err)
	}
	if err := p.Update(PolicyConfig{BlockedCommands: []string{"docker"}}); err != nil {
		t.Fatal(err)
	}
	if err := p.Check(spawn); err == nil {
		t.Error("Check() should fail after update")
	}
}

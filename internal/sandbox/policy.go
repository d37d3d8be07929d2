package sandbox

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Policy is the static denylist applied to program text before any
// environment is provisioned. Isolation does not depend on it.
type Policy struct {
	Denylist        []string `yaml:"denylist"`
	MaxProgramBytes int      `yaml:"max_program_bytes"`
}

func DefaultPolicy() Policy {
	return Policy{
		Denylist: []string{
			"os.system",
			"os.popen",
			"os.spawn",
			"os.exec",
			"os.fork",
			"subprocess",
			"socket",
			"urllib",
			"requests",
			"http.client",
			"__import__",
			"importlib",
			"ctypes",
			"import pty",
			"from pty",
			"shutil",
			"eval(",
			"exec(",
			"compile(",
			"open(",
		},
		MaxProgramBytes: 64 << 10,
	}
}

// LoadPolicy reads a YAML policy file. An empty path yields DefaultPolicy.
// A file that omits max_program_bytes keeps the default limit.
func LoadPolicy(path string) (Policy, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPolicy(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read sandbox policy: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Policy{}, fmt.Errorf("parse sandbox policy: %w", err)
	}
	if p.MaxProgramBytes <= 0 {
		p.MaxProgramBytes = DefaultPolicy().MaxProgramBytes
	}
	cleaned := p.Denylist[:0]
	for _, entry := range p.Denylist {
		if entry = strings.TrimSpace(entry); entry != "" {
			cleaned = append(cleaned, entry)
		}
	}
	p.Denylist = cleaned
	if len(p.Denylist) == 0 {
		return Policy{}, fmt.Errorf("sandbox policy %s has an empty denylist", path)
	}
	return p, nil
}

// Check returns a non-empty reason when program must not run. Whitespace is
// ignored while matching so "eval (" still hits "eval(".
func (p Policy) Check(program string) string {
	if strings.TrimSpace(program) == "" {
		return "program is empty"
	}
	if p.MaxProgramBytes > 0 && len(program) > p.MaxProgramBytes {
		return fmt.Sprintf("program exceeds %d bytes", p.MaxProgramBytes)
	}
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, program)
	for _, entry := range p.Denylist {
		needle := strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, entry)
		if strings.Contains(program, entry) || strings.Contains(compact, needle) {
			return fmt.Sprintf("forbidden construct %q", entry)
		}
	}
	return ""
}

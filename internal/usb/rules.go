package usb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// File permission constants for the rule file.
const (
	ruleDirPermissions  = 0750
	ruleFilePermissions = 0644
)

// RuleStore holds the operator's role bindings in memory and persists them
// to a JSON file.
//
// Reads never wait for file I/O: a submission is validated and written to
// disk first, and only then swapped into memory under a short write lock.
// If persistence fails the in-memory rules are left unchanged.
//
// All public methods are thread-safe.
type RuleStore struct {
	path string

	mu    sync.RWMutex
	rules []Rule

	// writeMu serialises submissions so the file and memory agree on the winner.
	writeMu sync.Mutex
}

// NewRuleStore creates a store backed by path holding a copy of rules.
// Nothing is written until Replace is called.
func NewRuleStore(path string, rules []Rule) *RuleStore {
	return &RuleStore{
		path:  path,
		rules: cloneRules(rules),
	}
}

// OpenRuleStore loads the rule file at path into a new store.
// A missing or empty file yields an empty store; a malformed file is an error.
func OpenRuleStore(path string) (*RuleStore, error) {
	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	return NewRuleStore(path, rules), nil
}

// Path returns the location of the persisted rule file.
func (s *RuleStore) Path() string {
	return s.path
}

// Snapshot returns a copy of the current rules in submission order.
func (s *RuleStore) Snapshot() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRules(s.rules)
}

// Lookup returns the first rule bound to role.
func (s *RuleStore) Lookup(role string) (Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.rules {
		if r.Role == role {
			return r.clone(), true
		}
	}
	return Rule{}, false
}

// Len returns the number of rules currently loaded.
func (s *RuleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Replace validates rules, overwrites the rule file with them and then
// makes them the in-memory rule set.
//
// Returns:
//   - ErrEmptyRuleSet or ErrDuplicateRole when validation fails
//   - an error wrapping ErrRulePersist when the file cannot be written
//
// On any error neither the file nor the in-memory rules change.
func (s *RuleStore) Replace(rules []Rule) error {
	if err := ValidateRules(rules); err != nil {
		return err
	}

	next := cloneRules(rules)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := SaveRules(s.path, next); err != nil {
		return err
	}

	s.mu.Lock()
	s.rules = next
	s.mu.Unlock()

	return nil
}

// ValidateRules checks a submitted rule set: it must be non-empty and
// roles must be unique. Rule fields are otherwise taken as given.
func ValidateRules(rules []Rule) error {
	if len(rules) == 0 {
		return ErrEmptyRuleSet
	}

	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if _, dup := seen[r.Role]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateRole, r.Role)
		}
		seen[r.Role] = struct{}{}
	}
	return nil
}

// LoadRules reads a rule file.
//
// A missing file, or one containing only whitespace, yields an empty list
// rather than an error. Content that is not a JSON array of rules yields
// an error wrapping ErrRuleFileMalformed.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Rule{}, nil
		}
		return nil, fmt.Errorf("reading rule file %s: %w", path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return []Rule{}, nil
	}

	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRuleFileMalformed, path, err)
	}
	if rules == nil {
		rules = []Rule{}
	}
	return rules, nil
}

// SaveRules overwrites the rule file at path with the full rule set.
//
// The JSON is written to a temporary file in the same directory and renamed
// into place, so readers of the file never see a partial write.
// Errors wrap ErrRulePersist.
func SaveRules(path string, rules []Rule) error {
	if rules == nil {
		rules = []Rule{}
	}

	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding rules: %w", ErrRulePersist, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, ruleDirPermissions); err != nil {
		return fmt.Errorf("%w: creating %s: %w", ErrRulePersist, dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".usb_rules-*.json")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRulePersist, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // No-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // Write error takes precedence
		return fmt.Errorf("%w: writing %s: %w", ErrRulePersist, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %w", ErrRulePersist, tmpName, err)
	}
	if err := os.Chmod(tmpName, ruleFilePermissions); err != nil {
		return fmt.Errorf("%w: %w", ErrRulePersist, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: replacing %s: %w", ErrRulePersist, path, err)
	}

	return nil
}

// cloneRules deep-copies a rule list.
func cloneRules(rules []Rule) []Rule {
	out := make([]Rule, len(rules))
	for i, r := range rules {
		out[i] = r.clone()
	}
	return out
}

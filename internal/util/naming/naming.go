package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultMaxLength is the DNS label limit used by Kubernetes namespaces.
	DefaultMaxLength = 63

	hashLength = 8
	separator  = '-'
)

// ErrInvalidName is matched by every InvalidNameError.
var ErrInvalidName = errors.New("invalid branch name")

// InvalidNameError reports a branch name that cannot produce an identifier.
type InvalidNameError struct {
	Branch string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid branch name %q: %s", e.Branch, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidName) match.
func (e *InvalidNameError) Is(target error) bool {
	return target == ErrInvalidName
}

// Resolver maps branch names to environment identifiers.
// The zero value uses no prefix and DefaultMaxLength.
type Resolver struct {
	Prefix    string
	MaxLength int
}

// Resolve derives the environment identifier for a branch using the default resolver.
func Resolve(branch string) (string, error) {
	return Resolver{}.Resolve(branch)
}

// Resolve derives the environment identifier for a branch.
func (r Resolver) Resolve(branch string) (string, error) {
	if strings.TrimSpace(branch) == "" {
		return "", &InvalidNameError{Branch: branch, Reason: "name is empty"}
	}

	body := sanitize(branch)
	if body == "" {
		return "", &InvalidNameError{Branch: branch, Reason: "no valid characters after sanitization"}
	}

	prefix := sanitize(r.Prefix)
	if prefix != "" {
		prefix += string(separator)
	}

	limit := r.maxLength()
	if len(prefix)+hashLength+2 > limit {
		return "", &InvalidNameError{Branch: branch, Reason: fmt.Sprintf("prefix %q leaves no room within %d characters", r.Prefix, limit)}
	}

	id := prefix + body
	if len(id) <= limit {
		return id, nil
	}

	keep := limit - len(prefix) - hashLength - 1
	truncated := strings.TrimRight(body[:keep], string(separator))
	return prefix + truncated + string(separator) + contentHash(branch), nil
}

func (r Resolver) maxLength() int {
	if r.MaxLength <= 0 {
		return DefaultMaxLength
	}
	return r.MaxLength
}

// sanitize lower-cases s and collapses every run of characters outside
// [a-z0-9] into a single separator, trimming separators at both ends.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, c := range strings.ToLower(s) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteRune(separator)
			}
			pendingSep = false
			b.WriteRune(c)
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// contentHash is unsalted so that every process derives the same suffix.
func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLength]
}

// Naming functions for resources owned by an environment.

// ExposureService is the exposure Service of an environment. The namespace
// keeps it apart from other environments, so the name is fixed.
const ExposureService = "db-external"

// ExposureLoadBalancer names the cloud load balancer of an environment,
// hashing long ids to stay within DefaultMaxLength.
func ExposureLoadBalancer(id string) string {
	return withSuffix(id, "-db-lb")
}

func withSuffix(id, suffix string) string {
	if len(id)+len(suffix) <= DefaultMaxLength {
		return id + suffix
	}
	keep := DefaultMaxLength - len(suffix) - hashLength - 1
	return strings.TrimRight(id[:keep], string(separator)) + string(separator) + contentHash(id) + suffix
}

func StateObject(prefix, id string) string {
	if prefix == "" {
		return id + ".json"
	}
	return fmt.Sprintf("%s/%s.json", strings.TrimSuffix(prefix, "/"), id)
}

func ChangesetTable(changeset string) string {
	return "branchenv_" + strings.ReplaceAll(sanitize(changeset), "-", "_")
}

func Lock(id string) string {
	return fmt.Sprintf("branchenv:lock:%s", id)
}

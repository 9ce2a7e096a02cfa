// Package access implements the restricted-field ownership policy: a
// non-admin caller may only reference their own id in a designated request
// field.
package access

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spec-kit/user-service/internal/domain"
	apperrors "github.com/spec-kit/user-service/pkg/util/errorutil"
)

// Location names the part of a request a restricted field lives in.
type Location int

const (
	LocationQuery Location = iota + 1
	LocationBody
	LocationPath
)

func (l Location) String() string {
	switch l {
	case LocationQuery:
		return "query"
	case LocationBody:
		return "body"
	case LocationPath:
		return "path"
	default:
		return "unknown"
	}
}

// Rule restricts Field at Location to the caller's own id. With
// ThrowOnMismatch a foreign or missing value is rejected; otherwise it is
// rewritten to the caller's id. List marks multi-valued fields such as ids.
type Rule struct {
	Field           string
	Location        Location
	ThrowOnMismatch bool
	List            bool
}

func (r Rule) String() string {
	mode := "rewrite"
	if r.ThrowOnMismatch {
		mode = "throw"
	}
	return fmt.Sprintf("%s.%s(%s)", r.Location, r.Field, mode)
}

// Fields is the view of a request the policy reads and rewrites.
type Fields interface {
	// Lookup returns the raw values of field, already split for list
	// fields. ok is false when the field is absent.
	Lookup(loc Location, field string) (values []string, ok bool)
	// Replace overwrites field with the single value id.
	Replace(loc Location, field string, id int64) error
}

// Enforce applies rule to the request on behalf of principal. Admins are
// never restricted. On return without error the field holds exactly the
// principal's id, unless it already did.
func Enforce(fields Fields, principal *domain.User, rule Rule) error {
	if principal == nil {
		return apperrors.NewForbidden("no principal to enforce access for")
	}
	if principal.IsAdmin {
		return nil
	}

	values, ok := fields.Lookup(rule.Location, rule.Field)
	values = compact(values)
	if !ok || len(values) == 0 {
		if rule.ThrowOnMismatch {
			return forbidden(rule)
		}
		return replace(fields, rule, principal.ID)
	}

	foreign := false
	for _, v := range values {
		if !SameID(v, principal.ID) {
			foreign = true
			break
		}
	}

	switch {
	case foreign && rule.ThrowOnMismatch:
		return forbidden(rule)
	case !foreign && len(values) == 1:
		return nil
	default:
		// Narrow to the principal: drops foreign ids and duplicates alike.
		return replace(fields, rule, principal.ID)
	}
}

// SameID compares a raw request value with id, tolerating surrounding
// whitespace and integral float encodings such as "2.0".
func SameID(raw string, id int64) bool {
	n, ok := ParseID(raw)
	return ok && n == id
}

// ParseID reads an id from a request value. Integral floats are accepted;
// anything else is not an id.
func ParseID(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func replace(fields Fields, rule Rule, id int64) error {
	if err := fields.Replace(rule.Location, rule.Field, id); err != nil {
		return apperrors.NewInternalError(fmt.Errorf("rewrite %s: %w", rule, err))
	}
	return nil
}

func forbidden(rule Rule) error {
	return apperrors.NewForbidden(fmt.Sprintf("you may only access your own %s", rule.Field))
}

func compact(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

package access

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/user-service/internal/domain"
	apperrors "github.com/spec-kit/user-service/pkg/util/errorutil"
)

type fakeFields struct {
	values   map[Location]map[string][]string
	replaced int
	failWith error
}

func newFakeFields() *fakeFields {
	return &fakeFields{values: map[Location]map[string][]string{}}
}

func (f *fakeFields) set(loc Location, field string, values ...string) *fakeFields {
	if f.values[loc] == nil {
		f.values[loc] = map[string][]string{}
	}
	f.values[loc][field] = values
	return f
}

func (f *fakeFields) Lookup(loc Location, field string) ([]string, bool) {
	v, ok := f.values[loc][field]
	return v, ok
}

func (f *fakeFields) Replace(loc Location, field string, id int64) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.replaced++
	f.set(loc, field, strconv.FormatInt(id, 10))
	return nil
}

var (
	member = &domain.User{ID: 1, Name: "kia", EmailConfirmed: true}
	admin  = &domain.User{ID: 2, Name: "admin", EmailConfirmed: true, IsAdmin: true}
)

func TestEnforceScalar(t *testing.T) {
	throwRule := Rule{Field: "id", Location: LocationPath, ThrowOnMismatch: true}
	rewriteRule := Rule{Field: "id", Location: LocationBody}

	tests := []struct {
		name      string
		rule      Rule
		values    []string
		present   bool
		principal *domain.User
		wantErr   error
		want      []string
		replaced  int
	}{
		{name: "own id passes", rule: throwRule, values: []string{"1"}, present: true, principal: member, want: []string{"1"}},
		{name: "own id as float passes", rule: throwRule, values: []string{"1.0"}, present: true, principal: member, want: []string{"1.0"}},
		{name: "foreign id rejected", rule: throwRule, values: []string{"2"}, present: true, principal: member, wantErr: apperrors.ErrForbidden, want: []string{"2"}},
		{name: "garbage rejected", rule: throwRule, values: []string{"abc"}, present: true, principal: member, wantErr: apperrors.ErrForbidden, want: []string{"abc"}},
		{name: "missing rejected with throw", rule: throwRule, principal: member, wantErr: apperrors.ErrForbidden},
		{name: "blank rejected with throw", rule: throwRule, values: []string{" "}, present: true, principal: member, wantErr: apperrors.ErrForbidden, want: []string{" "}},
		{name: "foreign id rewritten", rule: rewriteRule, values: []string{"2"}, present: true, principal: member, want: []string{"1"}, replaced: 1},
		{name: "missing rewritten", rule: rewriteRule, principal: member, want: []string{"1"}, replaced: 1},
		{name: "admin bypasses throw", rule: throwRule, values: []string{"1"}, present: true, principal: admin, want: []string{"1"}},
		{name: "admin bypasses missing", rule: throwRule, principal: admin},
		{name: "admin bypasses rewrite", rule: rewriteRule, values: []string{"7"}, present: true, principal: admin, want: []string{"7"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := newFakeFields()
			if tt.present {
				fields.set(tt.rule.Location, tt.rule.Field, tt.values...)
			}

			err := Enforce(fields, tt.principal, tt.rule)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
			} else {
				require.NoError(t, err)
			}

			got, _ := fields.Lookup(tt.rule.Location, tt.rule.Field)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.replaced, fields.replaced)
		})
	}
}

func TestEnforceList(t *testing.T) {
	rule := Rule{Field: "ids", Location: LocationQuery, List: true}

	t.Run("narrows mixed ids to principal", func(t *testing.T) {
		fields := newFakeFields().set(LocationQuery, "ids", "1", "2", "3")
		require.NoError(t, Enforce(fields, member, rule))
		got, _ := fields.Lookup(LocationQuery, "ids")
		assert.Equal(t, []string{"1"}, got)
	})

	t.Run("foreign ids only still narrow to principal", func(t *testing.T) {
		fields := newFakeFields().set(LocationQuery, "ids", "2", "3")
		require.NoError(t, Enforce(fields, member, rule))
		got, _ := fields.Lookup(LocationQuery, "ids")
		assert.Equal(t, []string{"1"}, got)
	})

	t.Run("missing ids are filled in", func(t *testing.T) {
		fields := newFakeFields()
		require.NoError(t, Enforce(fields, member, rule))
		got, ok := fields.Lookup(LocationQuery, "ids")
		assert.True(t, ok)
		assert.Equal(t, []string{"1"}, got)
	})

	t.Run("exactly own id untouched", func(t *testing.T) {
		fields := newFakeFields().set(LocationQuery, "ids", "1")
		require.NoError(t, Enforce(fields, member, rule))
		assert.Zero(t, fields.replaced)
	})

	t.Run("duplicates collapse", func(t *testing.T) {
		fields := newFakeFields().set(LocationQuery, "ids", "1", "1")
		require.NoError(t, Enforce(fields, member, rule))
		got, _ := fields.Lookup(LocationQuery, "ids")
		assert.Equal(t, []string{"1"}, got)
	})

	t.Run("throw variant rejects any foreign id", func(t *testing.T) {
		strict := rule
		strict.ThrowOnMismatch = true
		fields := newFakeFields().set(LocationQuery, "ids", "1", "2")
		err := Enforce(fields, member, strict)
		assert.ErrorIs(t, err, apperrors.ErrForbidden)
	})

	t.Run("admin keeps every id", func(t *testing.T) {
		fields := newFakeFields().set(LocationQuery, "ids", "1", "2", "3")
		require.NoError(t, Enforce(fields, admin, rule))
		got, _ := fields.Lookup(LocationQuery, "ids")
		assert.Equal(t, []string{"1", "2", "3"}, got)
	})
}

func TestEnforceReplaceFailureIsInternal(t *testing.T) {
	fields := newFakeFields()
	fields.failWith = errors.New("body is not an object")

	err := Enforce(fields, member, Rule{Field: "id", Location: LocationBody})
	assert.ErrorIs(t, err, apperrors.ErrInternal)
}

func TestEnforceWithoutPrincipal(t *testing.T) {
	err := Enforce(newFakeFields(), nil, Rule{Field: "id", Location: LocationBody})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestSameID(t *testing.T) {
	assert.True(t, SameID("2", 2))
	assert.True(t, SameID(" 2 ", 2))
	assert.True(t, SameID("2.0", 2))
	assert.True(t, SameID("2e0", 2))
	assert.False(t, SameID("2.5", 2))
	assert.False(t, SameID("", 2))
	assert.False(t, SameID("02x", 2))
	assert.False(t, SameID("NaN", 2))
	assert.False(t, SameID("3", 2))
}

func TestParseID(t *testing.T) {
	n, ok := ParseID("42")
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	n, ok = ParseID("-3.0")
	assert.True(t, ok)
	assert.Equal(t, int64(-3), n)

	_, ok = ParseID("1e300")
	assert.False(t, ok)
	_, ok = ParseID("abc")
	assert.False(t, ok)
}

func TestRuleString(t *testing.T) {
	assert.Equal(t, "query.ids(rewrite)", Rule{Field: "ids", Location: LocationQuery}.String())
	assert.Equal(t, "path.id(throw)", Rule{Field: "id", Location: LocationPath, ThrowOnMismatch: true}.String())
	assert.Equal(t, "unknown", Location(0).String())
}

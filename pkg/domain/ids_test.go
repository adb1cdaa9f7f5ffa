package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "pipscreen/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs"
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseOrganisationID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseOrganisationID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParsePIPID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		got, err := ParseUserID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, UserID(valid), got)
	})
}

// TestParseID_TrustBoundary covers hostile input at API entry points.
func TestParseID_TrustBoundary(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE pips;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Whitespace only", "   ", true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOrganisationID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestIDs_JSONEncoding(t *testing.T) {
	pipID := NewPIPID()

	raw, err := json.Marshal(map[string]PIPID{"id": pipID})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+pipID.String()+`"}`, string(raw))

	var decoded struct {
		ID PIPID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, pipID, decoded.ID)
}

func TestParseFacet(t *testing.T) {
	t.Run("empty means all", func(t *testing.T) {
		f, err := ParseFacet("  ")
		require.NoError(t, err)
		assert.Equal(t, FacetAll, f)
	})

	t.Run("case insensitive", func(t *testing.T) {
		f, err := ParseFacet("Foreign")
		require.NoError(t, err)
		assert.Equal(t, FacetForeign, f)
	})

	t.Run("unknown rejected but lenient helper falls back", func(t *testing.T) {
		_, err := ParseFacet("celebrities")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		assert.Equal(t, FacetAll, FacetOrAll("celebrities"))
	})

	t.Run("facet scopes", func(t *testing.T) {
		assert.True(t, FacetAll.IncludesDirect())
		assert.True(t, FacetAll.IncludesAssociates())
		assert.False(t, FacetAssociate.IncludesDirect())
		assert.True(t, FacetAssociate.IncludesAssociates())
		assert.False(t, FacetLocal.IncludesAssociates())
		assert.False(t, FacetPIP.IncludesAssociates())
	})
}

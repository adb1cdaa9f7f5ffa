package attrs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	id "pipscreen/pkg/domain"
)

func TestExtractString(t *testing.T) {
	orgID := id.NewOrganisationID()
	list := []any{"count", 3, "query", "john doe", "organisation_id", orgID, "dangling"}

	assert.Equal(t, "john doe", ExtractString(list, "query"))
	assert.Equal(t, orgID.String(), ExtractString(list, "organisation_id"))
	assert.Empty(t, ExtractString(list, "count"), "non-string values are ignored")
	assert.Empty(t, ExtractString(list, "dangling"), "keys without a value are ignored")
	assert.Empty(t, ExtractString(nil, "query"))
}

func TestFirstString(t *testing.T) {
	list := []any{"user_id", "", "pip_id", "p-1", "organisation_id", "o-1"}
	assert.Equal(t, "p-1", FirstString(list, "user_id", "pip_id", "organisation_id"))
	assert.Empty(t, FirstString(list, "missing"))
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListResult_TombstoneItemsCarryNoSizeOrMtime(t *testing.T) {
	r := ListResult{
		Items: []SourceDescriptor{
			{OriginalURI: "a.pdf", Tombstone: true},
		},
	}
	assert.True(t, r.Items[0].Tombstone)
	assert.Zero(t, r.Items[0].Size)
	assert.Nil(t, r.Items[0].SourceModifiedAt)
}

func TestListResult_TokenInvalidIsIndependentOfNextToken(t *testing.T) {
	r := ListResult{NextToken: "", TokenInvalid: true}
	assert.Empty(t, r.NextToken)
	assert.True(t, r.TokenInvalid)
}

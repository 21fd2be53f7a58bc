package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification_NeedsFetch(t *testing.T) {
	tests := []struct {
		name string
		ct   ChangeType
		want bool
	}{
		{"new needs fetch", ChangeNew, true},
		{"modified needs fetch", ChangeModified, true},
		{"unchanged does not", ChangeUnchanged, false},
		{"deleted does not", ChangeDeleted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classification{Type: tt.ct}
			assert.Equal(t, tt.want, c.NeedsFetch())
		})
	}
}

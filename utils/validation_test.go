package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStruct(t *testing.T) {
	type payload struct {
		Name  string `validate:"required"`
		Kind  string `validate:"required,oneof=soft hard"`
		Limit int    `validate:"gte=0,lte=100"`
	}

	t.Run("valid struct passes", func(t *testing.T) {
		err := ValidateStruct(payload{Name: "x", Kind: "soft", Limit: 10})
		assert.NoError(t, err)
	})

	t.Run("missing required field", func(t *testing.T) {
		err := ValidateStruct(payload{Kind: "soft"})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))

		fields := GetValidationFields(err)
		assert.Contains(t, fields, "Name")
		assert.Contains(t, fields["Name"], "required")
	})

	t.Run("oneof violation", func(t *testing.T) {
		err := ValidateStruct(payload{Name: "x", Kind: "sideways"})
		require.Error(t, err)
		fields := GetValidationFields(err)
		assert.Contains(t, fields["Kind"], "one of")
	})

	t.Run("range violation", func(t *testing.T) {
		err := ValidateStruct(payload{Name: "x", Kind: "soft", Limit: 500})
		require.Error(t, err)
		fields := GetValidationFields(err)
		assert.Contains(t, fields, "Limit")
	})
}

func TestValidateRevisionID(t *testing.T) {
	valid := []string{"rev-1", "rev-2024.08.30", "baseline_v2", "A1"}
	for _, id := range valid {
		assert.NoError(t, ValidateRevisionID(id), id)
	}

	invalid := []string{"", "-leading-dash", "has space", "semi;colon", "slash/ed"}
	for _, id := range invalid {
		assert.Error(t, ValidateRevisionID(id), id)
	}
}

func TestValidateUUID(t *testing.T) {
	assert.NoError(t, ValidateUUID("a3bb189e-8bf9-3888-9912-ace4e6543002"))
	assert.Error(t, ValidateUUID("not-a-uuid"))
}

func TestValidateRequired(t *testing.T) {
	assert.NoError(t, ValidateRequired("value", "field"))

	err := ValidateRequired("", "actor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "actor is required")
}

func TestValidateOneOf(t *testing.T) {
	allowed := []string{"shadow", "enforce"}
	assert.NoError(t, ValidateOneOf("shadow", "mode", allowed))
	assert.Error(t, ValidateOneOf("audit", "mode", allowed))
}

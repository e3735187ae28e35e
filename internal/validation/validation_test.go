package validation

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValidateConversationID(t *testing.T) {
	assert.NoError(t, ValidateConversationID(uuid.New().String()))
	assert.Error(t, ValidateConversationID(""))
	assert.Error(t, ValidateConversationID("conv-1"))
	assert.Error(t, ValidateConversationID("not a uuid at all"))
}

func TestValidateDisplayName(t *testing.T) {
	assert.NoError(t, ValidateDisplayName("Alice"))
	assert.NoError(t, ValidateDisplayName(""))
	assert.NoError(t, ValidateDisplayName(strings.Repeat("a", 80)))

	assert.Error(t, ValidateDisplayName(strings.Repeat("a", 81)))
	assert.Error(t, ValidateDisplayName("Ali\nce"))
	assert.Error(t, ValidateDisplayName("Ali\x00ce"))
}

func TestValidateCode(t *testing.T) {
	assert.NoError(t, ValidateCode("123456"))
	assert.NoError(t, ValidateCode("000000"))

	assert.Error(t, ValidateCode(""))
	assert.Error(t, ValidateCode("12345"))
	assert.Error(t, ValidateCode("1234567"))
	assert.Error(t, ValidateCode("12345a"))
	assert.Error(t, ValidateCode("12 456"))
}

package validation

import (
	"encoding/json"
	"testing"

	"parking-sticker/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const approveSchema = `{
  "type": "object",
  "required": ["applicationId"],
  "properties": {
    "applicationId": {"type": "string", "minLength": 1},
    "adminNotes": {"type": "string"}
  }
}`

func TestValidateInput(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		res, err := ValidateInput(map[string]interface{}{"applicationId": "app-1"}, json.RawMessage(approveSchema))
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.Empty(t, res.Errors)
	})

	t.Run("missing and mistyped", func(t *testing.T) {
		res, err := ValidateInput(map[string]interface{}{"adminNotes": 12}, json.RawMessage(approveSchema))
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Len(t, res.Errors, 2)
		assert.True(t, res.HasErrors("adminNotes"))
		assert.NotEmpty(t, res.GetErrorMessages())
	})

	t.Run("no schema accepts everything", func(t *testing.T) {
		res, err := ValidateInput(map[string]interface{}{"x": 1}, nil)
		require.NoError(t, err)
		assert.True(t, res.Valid)
	})

	t.Run("broken schema", func(t *testing.T) {
		_, err := ValidateInput(map[string]interface{}{}, json.RawMessage(`{"type": 5}`))
		assert.Error(t, err)
	})
}

func TestCompileSchema(t *testing.T) {
	assert.NoError(t, CompileSchema(json.RawMessage(approveSchema)))
	assert.Error(t, CompileSchema(json.RawMessage(`{"type": "nope"}`)))
}

func TestValidateTaskType(t *testing.T) {
	assert.NoError(t, ValidateTaskType("approve-application"))
	assert.NoError(t, ValidateTaskType("collected"))
	assert.Error(t, ValidateTaskType("Approve_Application"))
	assert.Error(t, ValidateTaskType("approve--application"))
}

func TestStructValidator(t *testing.T) {
	v := NewStructValidator()

	ok := models.Applicant{
		Name:                 "Siti Nurhaliza",
		ICNumber:             "850215105432",
		DisabilityCardNumber: "OKU123",
		Phone:                "0123456789",
		VehicleRegistration:  "WXY1234",
		DisabilityCategory:   "physical",
		Address:              "12 Jalan Mawar",
	}
	assert.NoError(t, v.Struct(ok))

	bad := ok
	bad.ICNumber = "85021510"
	bad.Email = "not-an-email"
	bad.Name = ""
	err := v.Struct(bad)
	require.Error(t, err)
	assert.Equal(t, "email: invalid email format; icNumber: must be a 12-digit IC number; name: is required", FormatStructErrors(err))
}

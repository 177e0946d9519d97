package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bookmanager/internal/apperr"
)

type readerForm struct {
	Name   string `json:"name" validate:"required,max=8"`
	Gender string `json:"gender" validate:"required,oneof=male female other"`
	Limit  int    `json:"borrow_limit" validate:"gte=0"`
}

func Test_Struct_ReportsFirstFieldByJSONName(t *testing.T) {
	err := Struct(readerForm{Gender: "male"})

	assert.True(t, apperr.Is(err, apperr.KindValidationFailed))
	_, msg := apperr.Public(err)
	assert.Equal(t, "name is required", msg)
}

func Test_Struct_OneOf(t *testing.T) {
	err := Struct(readerForm{Name: "lin", Gender: "x"})

	_, msg := apperr.Public(err)
	assert.Equal(t, "gender must be one of male female other", msg)
}

func Test_Struct_Valid(t *testing.T) {
	assert.NoError(t, Struct(readerForm{Name: "lin", Gender: "female", Limit: 3}))
}

package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type depositBody struct {
	Amount   string `json:"amount" validate:"required,positive_amount,cents"`
	TermDays int    `json:"term_days" validate:"omitempty,min=1,max=90"`
	Note     string
}

func TestValidateStruct(t *testing.T) {
	cases := []struct {
		in      depositBody
		wantErr error
	}{
		{depositBody{Amount: "100"}, nil},
		{depositBody{Amount: "100.50", TermDays: 90}, nil},
		{depositBody{Amount: "1.500"}, nil},
		{depositBody{}, ErrFieldRequired},
		{depositBody{Amount: "abc"}, ErrFieldPositiveAmount},
		{depositBody{Amount: "0"}, ErrFieldPositiveAmount},
		{depositBody{Amount: "-3"}, ErrFieldPositiveAmount},
		{depositBody{Amount: "1.999"}, ErrFieldAmountScale},
		{depositBody{Amount: "10", TermDays: 91}, ErrFieldMax},
		{depositBody{Amount: "10", TermDays: -1}, ErrFieldMin},
	}
	for _, tc := range cases {
		err := ValidateStruct(&tc.in)
		if tc.wantErr == nil {
			assert.NoError(t, err, tc.in.Amount)
			continue
		}
		assert.ErrorIs(t, err, tc.wantErr, tc.in.Amount)
	}
}

func TestValidateStructNamesJSONField(t *testing.T) {
	err := ValidateStruct(&depositBody{Amount: "10", TermDays: 91})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'term_days' must be at most 90")

	assert.ErrorIs(t, ValidateStruct("not a struct"), ErrValidationFailed)
}

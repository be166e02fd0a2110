package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBVN(t *testing.T) {
	assert.NoError(t, ValidateBVN("12345678901"))
	assert.NoError(t, ValidateBVN(" 12345678901 "))
	assert.Error(t, ValidateBVN("1234567890"))
	assert.Error(t, ValidateBVN("123456789012"))
	assert.Error(t, ValidateBVN("1234567890a"))
}

func TestValidatePIN(t *testing.T) {
	assert.NoError(t, ValidatePIN("0042"))
	assert.Error(t, ValidatePIN("123"))
	assert.Error(t, ValidatePIN("12345"))
	assert.Error(t, ValidatePIN("12a4"))
}

func TestParseAmount(t *testing.T) {
	t.Run("accepts user spellings", func(t *testing.T) {
		cases := map[string]float64{
			"2000":     2000,
			"2,500.50": 2500.50,
			"₦500":     500,
			"N500":     500,
			"n1,000":   1000,
		}
		for input, want := range cases {
			got, err := ParseAmount(input)
			require.NoError(t, err, "input %q", input)
			assert.Equal(t, want, got, "input %q", input)
		}
	})

	t.Run("rejects junk and non-positive", func(t *testing.T) {
		for _, input := range []string{"", "abc", "-500", "0", "1..5"} {
			_, err := ParseAmount(input)
			assert.Error(t, err, "input %q", input)
		}
	})
}

func TestParseDOB(t *testing.T) {
	dob, err := ParseDOB("14/02/1995")
	require.NoError(t, err)
	assert.Equal(t, 1995, dob.Year())

	_, err = ParseDOB("1995-02-14")
	assert.Error(t, err)
	_, err = ParseDOB("14/02/2999")
	assert.Error(t, err)
}

func TestNormalizeGender(t *testing.T) {
	for _, input := range []string{"m", "Male", "MAN"} {
		got, err := NormalizeGender(input)
		require.NoError(t, err)
		assert.Equal(t, "male", got)
	}
	got, err := NormalizeGender("F")
	require.NoError(t, err)
	assert.Equal(t, "female", got)

	_, err = NormalizeGender("yes")
	assert.Error(t, err)
}

func TestValidateAccountNumber(t *testing.T) {
	assert.NoError(t, ValidateAccountNumber("0123456789"))
	assert.Error(t, ValidateAccountNumber("012345678"))
	assert.Error(t, ValidateAccountNumber("01234567890"))
}

func TestResolveBank(t *testing.T) {
	bank, ok := ResolveBank("gtbank")
	require.True(t, ok)
	assert.Equal(t, "058", bank.Code)

	bank, ok = ResolveBank("Zenith Bank")
	require.True(t, ok)
	assert.Equal(t, "057", bank.Code)

	bank, ok = ResolveBank("OPAY")
	require.True(t, ok)
	assert.Equal(t, "999992", bank.Code)

	_, ok = ResolveBank("bank of narnia")
	assert.False(t, ok)
}

func TestFormatNaira(t *testing.T) {
	assert.Equal(t, "₦2,000.00", FormatNaira(2000))
	assert.Equal(t, "₦1,234,567.89", FormatNaira(1234567.89))
	assert.Equal(t, "₦500.50", FormatNaira(500.5))
	assert.Equal(t, "-₦75.00", FormatNaira(-75))
	assert.Equal(t, "₦0.00", FormatNaira(0))
}

func TestNewReference(t *testing.T) {
	ref := NewReference(RefBankTransfer)
	assert.Regexp(t, `^BT_\d{14}_[0-9a-f]{8}$`, ref)
	assert.NotEqual(t, ref, NewReference(RefBankTransfer))
}

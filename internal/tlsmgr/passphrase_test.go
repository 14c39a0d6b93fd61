package tlsmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePassphraseAcceptsStrongValue(t *testing.T) {
	err := ValidatePassphrase("Tr0ub4dor&Zebra!Quartz#Meadow9Fox")
	assert.NoError(t, err)
}

func TestValidatePassphraseRejectsShort(t *testing.T) {
	err := ValidatePassphrase("Sh0rt!")
	require.Error(t, err)
}

func TestValidatePassphraseRejectsFewCharClasses(t *testing.T) {
	err := ValidatePassphrase("alllowercaseletterswithnovariety")
	require.Error(t, err)
}

func TestValidatePassphraseRejectsLowUniqueCount(t *testing.T) {
	err := ValidatePassphrase("Ab1!Ab1!Ab1!Ab1!Ab1!Ab1!Ab1!Ab1!")
	require.Error(t, err)
}

func TestValidatePassphraseRejectsMonotonicRun(t *testing.T) {
	err := ValidatePassphrase("Xyzabc123DEFghi!QuartzMeadow99Fo")
	require.Error(t, err)
}

func TestValidatePassphraseRejectsRepeatedSubstring(t *testing.T) {
	err := ValidatePassphrase("Qz9TmXk2RbH4Wp7Qz9LsVu8Yn5FcDg6J")
	require.Error(t, err)
}

func TestHasMonotonicRunDetectsAscendingAndDescending(t *testing.T) {
	assert.True(t, hasMonotonicRun([]rune("xy9abc")))
	assert.True(t, hasMonotonicRun([]rune("xy9cba")))
	assert.False(t, hasMonotonicRun([]rune("xqzmwn")))
}

func TestHasRepeatedSubstringDetectsRecurrence(t *testing.T) {
	assert.True(t, hasRepeatedSubstring("fooBARfooBAZ"))
	assert.False(t, hasRepeatedSubstring("abcdefghijklmnop"))
}

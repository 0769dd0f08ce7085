package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))

	short := EstimateTokens("hello world")
	assert.Greater(t, short, 0)

	long := EstimateTokens(strings.Repeat("some longer text about models ", 20))
	assert.Greater(t, long, short)
}

package ledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddresses(t *testing.T) {
	addrs, err := ParseAddresses([]string{" 0x1111111111111111111111111111111111111111 ", "", "0x2222222222222222222222222222222222222222"})
	require.NoError(t, err)
	assert.Equal(t, []common.Address{accountA, accountB}, addrs)

	_, err = ParseAddresses([]string{"0x1234"})
	assert.Error(t, err)

	_, err = ParseAddress("")
	assert.Error(t, err)
}

func TestOperatorsAuthorizer(t *testing.T) {
	auth := Operators(accountA, accountB)
	assert.True(t, auth(accountA))
	assert.True(t, auth(accountB))
	assert.False(t, auth(accountC))
	assert.False(t, Operators()(accountA))
}

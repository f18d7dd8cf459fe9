package byte4

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromCalldata(t *testing.T) {
	sel, err := FromCalldata([]byte{0xa9, 0x05, 0x9c, 0xbb, 0x00, 0x01})
	require.NoError(t, err)
	assert.Equal(t, Selector{0xa9, 0x05, 0x9c, 0xbb}, sel)

	_, err = FromCalldata([]byte{0xa9, 0x05})
	assert.Error(t, err)
}

func TestFromSignature(t *testing.T) {
	// well-known ERC20 transfer selector
	assert.Equal(t, "0xa9059cbb", FromSignature("transfer(address,uint256)").String())
}

package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known throwaway dev key (Hardhat account #0). Never funded on mainnet.
const (
	testKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestNewSignerDerivesAddress(t *testing.T) {
	s, err := NewSigner(testKey, 137)
	require.NoError(t, err)
	assert.Equal(t, testAddress, s.Address().Hex())
}

func TestNewSignerAcceptsHexPrefix(t *testing.T) {
	s, err := NewSigner("0x"+testKey, 137)
	require.NoError(t, err)
	assert.Equal(t, testAddress, s.Address().Hex())
}

func TestNewSignerRejectsInvalidKey(t *testing.T) {
	_, err := NewSigner("not-a-key", 137)
	require.Error(t, err)
}

func TestSignAuthMessageIsDeterministic(t *testing.T) {
	s, err := NewSigner(testKey, 137)
	require.NoError(t, err)

	sig1, err := s.SignAuthMessage(testAddress, 1700000000, 0)
	require.NoError(t, err)
	sig2, err := s.SignAuthMessage(testAddress, 1700000000, 0)
	require.NoError(t, err)

	assert.Equal(t, sig1, sig2)
	assert.True(t, strings.HasPrefix(sig1, "0x"))
	assert.Len(t, sig1, 2+65*2) // 0x + 65 bytes hex

	// A different timestamp must produce a different signature.
	sig3, err := s.SignAuthMessage(testAddress, 1700000001, 0)
	require.NoError(t, err)
	assert.NotEqual(t, sig1, sig3)
}

func testOrder() OrderPayload {
	return OrderPayload{
		Salt:          "123456789",
		Maker:         testAddress,
		Signer:        testAddress,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount:   "6500000",
		TakerAmount:   "10000000",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0,
		SignatureType: 2,
	}
}

func TestSignOrderDependsOnExchange(t *testing.T) {
	s, err := NewSigner(testKey, 137)
	require.NoError(t, err)

	normal, err := s.SignOrder(testOrder(), false)
	require.NoError(t, err)
	negRisk, err := s.SignOrder(testOrder(), true)
	require.NoError(t, err)

	// The two exchange contracts have distinct domain separators.
	assert.NotEqual(t, normal, negRisk)

	again, err := s.SignOrder(testOrder(), false)
	require.NoError(t, err)
	assert.Equal(t, normal, again)
}

func TestSignOrderRejectsMalformedNumbers(t *testing.T) {
	s, err := NewSigner(testKey, 137)
	require.NoError(t, err)

	o := testOrder()
	o.TokenID = "xyz"
	_, err = s.SignOrder(o, false)
	require.Error(t, err)
}

func TestL2HeadersAtIsDeterministic(t *testing.T) {
	auth := &HMACAuth{
		Key:        "api-key",
		Secret:     "c2VjcmV0LWJ5dGVz", // base64("secret-bytes")
		Passphrase: "pass",
	}

	h1 := auth.L2HeadersAt(testAddress, "POST", "/order", `{"x":1}`, 1700000000)
	h2 := auth.L2HeadersAt(testAddress, "POST", "/order", `{"x":1}`, 1700000000)
	assert.Equal(t, h1, h2)

	assert.Equal(t, testAddress, h1["POLY_ADDRESS"])
	assert.Equal(t, "api-key", h1["POLY_API_KEY"])
	assert.Equal(t, "1700000000", h1["POLY_TIMESTAMP"])
	assert.Equal(t, "pass", h1["POLY_PASSPHRASE"])
	assert.NotEmpty(t, h1["POLY_SIGNATURE"])

	// Any change to the signed message changes the signature.
	h3 := auth.L2HeadersAt(testAddress, "GET", "/order", `{"x":1}`, 1700000000)
	assert.NotEqual(t, h1["POLY_SIGNATURE"], h3["POLY_SIGNATURE"])
}

func TestHMACAuthStringRedactsSecrets(t *testing.T) {
	auth := &HMACAuth{Key: "abcdef123", Secret: "supersecret"}
	s := auth.String()
	assert.NotContains(t, s, "supersecret")
	assert.Contains(t, s, "abcd****")
}

package tls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsGREASE(t *testing.T) {
	assert.True(t, IsGREASE(0x0a0a))
	assert.True(t, IsGREASE(0xdada))
	assert.False(t, IsGREASE(0x1301))
}

func TestJA3StableAcrossGREASE(t *testing.T) {
	bodyWithGREASE := buildClientHelloBody([]uint16{0x0a0a, 0x1301, 0x1302}, "example.com")
	chWithGREASE, err := ParseClientHello(wrapHandshake(HandshakeTypeClientHello, bodyWithGREASE))
	require.NoError(t, err)

	bodyWithoutGREASE := buildClientHelloBody([]uint16{0x1301, 0x1302}, "example.com")
	chWithoutGREASE, err := ParseClientHello(wrapHandshake(HandshakeTypeClientHello, bodyWithoutGREASE))
	require.NoError(t, err)

	fpWith, err := JA3(chWithGREASE)
	require.NoError(t, err)
	fpWithout, err := JA3(chWithoutGREASE)
	require.NoError(t, err)

	assert.Equal(t, fpWithout, fpWith)
	assert.Len(t, fpWith, 32) // MD5 hex digest
}

func TestJA3DiffersOnCipherList(t *testing.T) {
	bodyA := buildClientHelloBody([]uint16{0x1301}, "")
	chA, err := ParseClientHello(wrapHandshake(HandshakeTypeClientHello, bodyA))
	require.NoError(t, err)

	bodyB := buildClientHelloBody([]uint16{0x1302}, "")
	chB, err := ParseClientHello(wrapHandshake(HandshakeTypeClientHello, bodyB))
	require.NoError(t, err)

	fpA, err := JA3(chA)
	require.NoError(t, err)
	fpB, err := JA3(chB)
	require.NoError(t, err)

	assert.NotEqual(t, fpA, fpB)
}

func TestJA3S(t *testing.T) {
	body := buildServerHelloBody(0x1302)
	sh, err := ParseServerHello(wrapHandshake(HandshakeTypeServerHello, body))
	require.NoError(t, err)

	fp, err := JA3S(sh)
	require.NoError(t, err)
	assert.Len(t, fp, 32)
}

package tls

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRulesFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func clientHelloWithSNI(t *testing.T, sni string) *ClientHello {
	t.Helper()
	body := buildClientHelloBody([]uint16{0x1301}, sni)
	ch, err := ParseClientHello(wrapHandshake(HandshakeTypeClientHello, body))
	require.NoError(t, err)
	return ch
}

func TestLoadRules(t *testing.T) {
	path := writeRulesFile(t, `
rules:
  - id: block-internal
    sni: internal.example.com
    deny: true
`)

	config, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, config.Rules, 1)
	assert.Equal(t, "block-internal", config.Rules[0].ID)
	assert.True(t, config.Rules[0].Deny)
}

func TestLoadRulesRejectsEmptyMatcher(t *testing.T) {
	path := writeRulesFile(t, `
rules:
  - id: broken
    deny: true
`)

	_, err := LoadRules(path)
	assert.Error(t, err)
}

func TestRuleConfigAllowsEverythingWhenEmpty(t *testing.T) {
	var config *RuleConfig
	ch := clientHelloWithSNI(t, "example.com")
	assert.True(t, config.Allows(ch))
}

func TestRuleConfigDeniesMatchingSNISuffix(t *testing.T) {
	config := &RuleConfig{Rules: []*Rule{{ID: "deny-example", SNI: "example.com", Deny: true}}}

	assert.False(t, config.Allows(clientHelloWithSNI(t, "www.example.com")))
	assert.True(t, config.Allows(clientHelloWithSNI(t, "other.org")))
}

package signedpayload

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("client-secret")

func TestVerifyRoundTrip(t *testing.T) {
	payloads := []string{
		`{"user":{"id":9,"email":"a@x.com"},"store_hash":"abc123","timestamp":1700000000.5}`,
		`{"context":"stores/abc123","Mixed_Case":{"Nested.Key":true}}`,
		`[]`,
		`"a.string.with.dots"`,
	}
	for _, p := range payloads {
		raw, ok := Verify(Sign([]byte(p), secret), secret)
		require.True(t, ok, p)
		assert.Equal(t, p, string(raw))
	}
}

func TestParseFields(t *testing.T) {
	body := `{"user":{"id":9,"email":"a@x.com"},"owner":{"id":1,"email":"o@x.com"},"context":"stores/abc123","store_hash":"abc123","event":"add-user","oauth_code":"c0de"}`
	p, ok := Parse(Sign([]byte(body), secret), secret)
	require.True(t, ok)
	assert.Equal(t, "a@x.com", p.User.Email)
	assert.Equal(t, int64(9), p.User.ID)
	assert.Equal(t, "o@x.com", p.Owner.Email)
	assert.Equal(t, "abc123", p.StoreHash)
	assert.Equal(t, "add-user", p.Event)
	assert.Equal(t, "c0de", p.OAuthCode)
	assert.JSONEq(t, body, string(p.Raw))
}

func TestVerifyRejectsFlippedSignatureBits(t *testing.T) {
	body := []byte(`{"store_hash":"abc123"}`)
	parts := strings.SplitN(Sign(body, secret), ".", 2)
	sig, err := base64.StdEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	for i := range sig {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), sig...)
			flipped[i] ^= 1 << bit
			signed := parts[0] + "." + base64.StdEncoding.EncodeToString(flipped)
			_, ok := Verify(signed, secret)
			require.False(t, ok, "byte %d bit %d", i, bit)
		}
	}
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	valid := Sign([]byte(`{"store_hash":"abc123"}`), secret)
	parts := strings.SplitN(valid, ".", 2)

	cases := map[string]string{
		"empty":          "",
		"no dot":         parts[0],
		"empty payload":  "." + parts[1],
		"empty sig":      parts[0] + ".",
		"bad base64":     "!!!." + parts[1],
		"bad sig base64": parts[0] + ".%%%",
		"wrong secret":   Sign([]byte(`{"store_hash":"abc123"}`), []byte("other")),
		"tampered body":  base64.StdEncoding.EncodeToString([]byte(`{"store_hash":"evil"}`)) + "." + parts[1],
		"not json":       Sign([]byte(`not json`), secret),
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := Verify(in, secret)
			assert.False(t, ok)
		})
	}
}

func TestVerifyIgnoresTrailingSegments(t *testing.T) {
	signed := Sign([]byte(`{"store_hash":"abc123"}`), secret) + ".extra"
	_, ok := Verify(signed, secret)
	assert.True(t, ok)
}

func TestVerifyEmptySecret(t *testing.T) {
	_, ok := Verify(Sign([]byte(`{}`), nil), nil)
	assert.False(t, ok)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, secureCompare([]byte("abc"), []byte("abc")))
	assert.False(t, secureCompare([]byte("abc"), []byte("abd")))
	assert.False(t, secureCompare([]byte("abc"), []byte("abcd")))
	assert.False(t, secureCompare(nil, nil))
	assert.False(t, secureCompare([]byte{}, []byte{}))
}

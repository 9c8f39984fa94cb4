package tokenstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealerRoundTrip(t *testing.T) {
	s, err := newSealer([]byte("application-secret-16b"), []byte("install-salt"))
	require.NoError(t, err)

	plaintext := []byte(`{"at":"access","rt":"refresh"}`)
	sealed, err := s.seal(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := s.open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSealerProducesUniqueCiphertexts(t *testing.T) {
	s, err := newSealer([]byte("application-secret-16b"), []byte("install-salt"))
	require.NoError(t, err)

	first, err := s.seal([]byte("same payload"))
	require.NoError(t, err)
	second, err := s.seal([]byte("same payload"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "nonce must differ per seal")
}

func TestSealerWrongKeyFailsToOpen(t *testing.T) {
	right, err := newSealer([]byte("application-secret-16b"), []byte("install-salt"))
	require.NoError(t, err)
	wrong, err := newSealer([]byte("other-secret-also-16"), []byte("install-salt"))
	require.NoError(t, err)

	sealed, err := right.seal([]byte("grant material"))
	require.NoError(t, err)

	_, err = wrong.open(sealed)
	require.Error(t, err)
}

func TestSealerRejectsTamperedPayload(t *testing.T) {
	s, err := newSealer([]byte("application-secret-16b"), []byte("install-salt"))
	require.NoError(t, err)

	sealed, err := s.seal([]byte("grant material"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = s.open(sealed)
	require.Error(t, err)
}

func TestSealerRejectsShortSecret(t *testing.T) {
	_, err := newSealer([]byte("short"), []byte("salt"))
	require.Error(t, err)

	_, err = newSealer([]byte("application-secret-16b"), nil)
	require.Error(t, err)
}

func TestSealerRejectsTruncatedPayload(t *testing.T) {
	s, err := newSealer([]byte("application-secret-16b"), []byte("install-salt"))
	require.NoError(t, err)

	_, err = s.open([]byte("tiny"))
	require.Error(t, err)
}

func TestRecordIDIsStablePerProvider(t *testing.T) {
	first := recordID("enterprise")
	second := recordID("enterprise")
	other := recordID("local")

	assert.Equal(t, first, second, "repeated saves must hit the same row")
	assert.NotEqual(t, first, other)
}

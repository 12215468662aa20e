package coprocessor

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockCertificate(t *testing.T) {
	m := &Mock{Cert: []byte{0xDE, 0xAD, 0xBE, 0xEF}}
	cert, err := m.Certificate(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, cert)
}

func TestMockChallengeResponseEchoesByDefault(t *testing.T) {
	m := &Mock{}
	resp, err := m.ChallengeResponse(context.Background(), []byte("challenge"))
	require.NoError(t, err)
	require.Equal(t, []byte("challenge"), resp)
}

func TestMockChallengeResponseCustomFunc(t *testing.T) {
	m := &Mock{Response: func(challenge []byte) []byte {
		return bytes.ToUpper(challenge)
	}}
	resp, err := m.ChallengeResponse(context.Background(), []byte("sign-me"))
	require.NoError(t, err)
	require.Equal(t, []byte("SIGN-ME"), resp)
}

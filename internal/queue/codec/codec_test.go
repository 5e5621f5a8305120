package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagehive/hopper/internal/queueset"
)

func TestRoundTripPreservesFieldsAndResetsState(t *testing.T) {
	t.Parallel()

	orig := queueset.NewRequest("page", "https://example.com")
	orig.Attempt = 2

	raw, err := Marshal(orig)
	require.NoError(t, err)

	got, err := Unmarshal(raw)
	require.NoError(t, err)
	require.Equal(t, orig.ID, got.ID)
	require.Equal(t, orig.Type, got.Type)
	require.Equal(t, orig.URL, got.URL)
	require.Equal(t, 2, got.Attempt)
	require.False(t, got.Acked())
	require.Nil(t, got.Origin())
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Unmarshal([]byte("not json"))
	require.Error(t, err)
}

package link

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDistanceUnsetIsZero(t *testing.T) {
	require.Equal(t, 0, distance(200, nil))
}

func TestDistanceWraps(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := byte(rapid.IntRange(0, 255).Draw(rt, "a"))
		k := rapid.IntRange(0, 255).Draw(rt, "k")
		b := a
		require.Equal(t, k, distance(seqAdd(a, k), &b))
	})
}

func TestDistanceEqualIsZero(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := byte(rapid.IntRange(0, 255).Draw(rt, "a"))
		require.Equal(t, 0, distance(a, &a))
	})
}

package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLineBuffer(t *testing.T) {
	t.Parallel()

	t.Run("split across feeds", func(t *testing.T) {
		var b lineBuffer
		require.Equal(t, []string{`{"a":1}`}, b.Feed([]byte("{\"a\":1}\n{\"b")))
		require.Equal(t, `{"b`, b.Rest())
		require.Equal(t, []string{`{"b":2}`}, b.Feed([]byte("\":2}\n")))
		require.Empty(t, b.Rest())
	})

	t.Run("multiple lines in one feed", func(t *testing.T) {
		var b lineBuffer
		require.Equal(t, []string{"one", "", "two"}, b.Feed([]byte("one\n\ntwo\nthree")))
		require.Equal(t, "three", b.Rest())
	})

	t.Run("empty feed", func(t *testing.T) {
		var b lineBuffer
		require.Nil(t, b.Feed(nil))
		require.Empty(t, b.Rest())
	})

	t.Run("rest is suffix after last newline", func(t *testing.T) {
		var b lineBuffer
		b.Feed([]byte("abc"))
		require.Equal(t, "abc", b.Rest())
		b.Feed([]byte("def\ng"))
		require.Equal(t, "g", b.Rest())
	})
}

package es

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersion(t *testing.T) {
	t.Run("counts applied events", func(t *testing.T) {
		a := mustTestAgg("a")
		require.Equal(t, Version(0), a.GetVersion())
		require.NoError(t, a.RaiseEvent(&eventX{N: 1}))
		require.NoError(t, a.RaiseEvent(&eventX{N: 2}))
		require.Equal(t, Version(2), a.GetVersion())
		require.Less(t, a.GetOriginalVersion(), a.GetVersion())
	})

	t.Run("slog attributes", func(t *testing.T) {
		v := Version(7)
		require.Equal(t, slog.Uint64("version", 7), v.SlogAttr())
		require.Equal(t, slog.Uint64("start_version", 7), v.SlogAttrWithKey("start_version"))
		require.Equal(t, uint64(7), v.Uint64())
	})

	t.Run("encoded as a plain number in envelopes", func(t *testing.T) {
		data, err := json.Marshal(Envelope{Version: 3})
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(data, &raw))
		require.EqualValues(t, 3, raw["version"])

		var e Envelope
		require.NoError(t, json.Unmarshal([]byte(`{"version":1234}`), &e))
		require.Equal(t, Version(1234), e.Version)
	})
}

package extract

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultChain(t *testing.T) {
	chain := DefaultChain()

	require.Len(t, chain.VideoURL, 5)
	assert.Equal(t, `meta[property="og:video"]`, chain.VideoURL[0].CSS)
	assert.Equal(t, "video", chain.VideoURL[4].CSS)
	assert.Len(t, chain.Thumbnail, 3)
	assert.Len(t, chain.Caption, 4)
	require.Len(t, chain.Username, 2)
	assert.Equal(t, "jane_doe", chain.Username[0].apply("Jane (@jane_doe) on Instagram"))
	assert.Equal(t, "", chain.Username[0].apply("No handle here"))
}

func TestLoadChain(t *testing.T) {
	t.Run("empty path uses defaults", func(t *testing.T) {
		chain, err := LoadChain("")
		require.NoError(t, err)
		assert.Len(t, chain.VideoURL, 5)
	})

	t.Run("override file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "selectors.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
video_url:
  - css: 'video.player'
    attr: src
caption:
  - css: 'p.caption'
    attr: text
`), 0644))

		chain, err := LoadChain(path)
		require.NoError(t, err)
		require.Len(t, chain.VideoURL, 1)
		assert.Equal(t, "video.player", chain.VideoURL[0].CSS)
		assert.Empty(t, chain.Thumbnail)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadChain(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestParseChain_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "video_url: [unclosed"},
		{"no video selectors", "caption:\n  - css: h1\n    attr: text\n"},
		{"missing attr", "video_url:\n  - css: video\n"},
		{"bad css", "video_url:\n  - css: 'div > video'\n    attr: src\n"},
		{"bad pattern", "video_url:\n  - css: video\n    attr: src\n    pattern: '(['\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseChain([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidChain)
		})
	}
}

func TestNewScript(t *testing.T) {
	script, err := NewScript(DefaultChain(), BridgeName)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(script.Source, "() => {"))
	assert.Contains(t, script.Source, `window["__streamsaverBridge"]`)
	assert.Contains(t, script.Source, `"css":"meta[property=\"og:video\"]"`)
	assert.Contains(t, script.Source, `"pattern":"@(\\w+)"`)
	assert.Equal(t, BridgeName, script.Bridge)

	tagged := script.WithToken("42")
	assert.Contains(t, tagged.Source, `pick(chain.username), "42"]`)
	assert.Equal(t, "42", tagged.Token)
	assert.Empty(t, script.Token, "the original script is not modified")
	assert.Contains(t, script.Source, `pick(chain.username), ""]`)
}

func TestWithToken(t *testing.T) {
	args := withToken([]*string{strPtr("v")}, "7")
	require.Len(t, args, tokenField+1)
	assert.Equal(t, "v", *args[0])
	assert.Nil(t, args[1])
	assert.Equal(t, "7", *args[tokenField])
	assert.Equal(t, "7", bridgeToken(args))
	assert.Empty(t, bridgeToken([]*string{strPtr("v")}))
}

func TestDecodeBridgePayload(t *testing.T) {
	args, err := decodeBridgePayload(`["https://v.mp4", null, "caption", null]`)
	require.NoError(t, err)
	require.Len(t, args, 4)
	assert.Equal(t, "https://v.mp4", *args[0])
	assert.Nil(t, args[1])
	assert.Nil(t, args[3])

	_, err = decodeBridgePayload("not json")
	assert.Error(t, err)
}

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDrafts(t *testing.T) {
	t.Run("plain JSON array", func(t *testing.T) {
		drafts, err := ParseDrafts(`[{"title":"research","assignee":"scout"},{"title":"write","parallelGroup":"A"}]`)
		require.NoError(t, err)
		require.Len(t, drafts, 2)
		assert.Equal(t, "research", drafts[0].Title)
		assert.Equal(t, "scout", drafts[0].Assignee)
		require.NotNil(t, drafts[1].ParallelGroup)
		assert.Equal(t, "A", *drafts[1].ParallelGroup)
	})

	t.Run("fenced JSON", func(t *testing.T) {
		drafts, err := ParseDrafts("Here is the breakdown:\n```json\n[{\"title\":\"only step\"}]\n```\nDone.")
		require.NoError(t, err)
		require.Len(t, drafts, 1)
		assert.Equal(t, "only step", drafts[0].Title)
	})

	t.Run("list fields accept both encodings", func(t *testing.T) {
		drafts, err := ParseDrafts(`[{"title":"s","inputs":["a","b"],"outputs":"[\"c\"]","skills":"not json"}]`)
		require.NoError(t, err)
		require.Len(t, drafts, 1)
		assert.Equal(t, []string{"a", "b"}, []string(drafts[0].Inputs))
		assert.Equal(t, []string{"c"}, []string(drafts[0].Outputs))
		assert.Empty(t, drafts[0].Skills, "malformed list text falls back to empty")
	})

	t.Run("malformed result is an error", func(t *testing.T) {
		_, err := ParseDrafts("I could not decide on a breakdown.")
		require.Error(t, err)
	})

	t.Run("draft without title is an error", func(t *testing.T) {
		_, err := ParseDrafts(`[{"description":"no title"}]`)
		require.Error(t, err)
	})
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `[1,2]`, ExtractJSON(" [1,2] "))
	assert.Equal(t, `{"a":1}`, ExtractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `[{"a":"]"}]`, ExtractJSON(`prefix [{"a":"]"}] suffix`))
}

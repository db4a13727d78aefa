package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"open", "the", "report.pdf", "100"}, Terms("Open the? REPORT.PDF open 100% to"))
	assert.Empty(t, Terms("a an %%"))
}

func TestScoreAndTopN(t *testing.T) {
	terms := []string{"vim", "install"}
	assert.Equal(t, 1.0, Score("Install VIM please", terms))
	assert.Equal(t, 0.5, Score("vim is great", terms))
	assert.Zero(t, Score("anything", nil))

	now := time.Now()
	entries := []Entry{
		{Content: "old half", Score: 0.5, CreatedAt: now.Add(-time.Hour)},
		{Content: "full", Score: 1},
		{Content: "new half", Score: 0.5, CreatedAt: now},
	}
	top := TopN(entries, 2)
	assert.Len(t, top, 2)
	assert.Equal(t, "full", top[0].Content)
	assert.Equal(t, "new half", top[1].Content)
}

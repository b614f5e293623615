package verify

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_IssueChallenge(t *testing.T) {
	g := NewGate(config.DefaultQuestions)

	seen := make(map[string]bool)
	for i := range config.DefaultQuestions {
		idx := i
		g.intN = func(n int) int {
			assert.Equal(t, len(config.DefaultQuestions), n)
			return idx
		}

		c := g.IssueChallenge()
		assert.Equal(t, config.DefaultQuestions[i].Question, c.Question)
		assert.Equal(t, config.DefaultQuestions[i].Answer, c.Answer)
		seen[c.Question] = true
	}

	assert.Len(t, seen, len(config.DefaultQuestions))
}

func TestGate_CheckAnswer(t *testing.T) {
	g := NewGate(config.DefaultQuestions)

	tcases := []struct {
		answer   string
		expected bool
	}{
		{"8", true},
		{"blue", true},
		{"  BLUE ", true},
		{"Tuesday", true},
		{"'a'", true},
		{"7", true},
		{"3", true},
		{"6", true},
		{"green", false},
		{"5", false},
		{"", false},
	}

	for _, tc := range tcases {
		t.Run(tc.answer, func(t *testing.T) {
			assert.Equal(t, tc.expected, g.CheckAnswer(tc.answer))
		})
	}
}

func TestGate_MarkVerified(t *testing.T) {
	g := NewGate(config.DefaultQuestions)
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return first }

	assert.False(t, g.IsVerified("session-1"))

	g.MarkVerified("session-1")
	assert.True(t, g.IsVerified("session-1"))

	g.now = func() time.Time { return first.Add(time.Hour) }
	g.MarkVerified("session-1")

	rec, ok := g.Record("session-1")
	require.True(t, ok)
	assert.Equal(t, first, rec.VerifiedAt, "expected the first verification record to be kept")
	assert.True(t, rec.Verified)

	assert.False(t, g.IsVerified("session-2"))
	assert.False(t, g.IsVerified(""))
}

func TestGate_Concurrent(t *testing.T) {
	g := NewGate(config.DefaultQuestions)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("session-%d", i%5)
			g.MarkVerified(id)
			g.IsVerified(id)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		assert.True(t, g.IsVerified(fmt.Sprintf("session-%d", i)))
	}
}

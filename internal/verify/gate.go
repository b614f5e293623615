// Package verify tracks which client sessions have answered a
// verification challenge.
package verify

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/moderation"
)

type Challenge struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type Record struct {
	SessionId  string    `json:"session_id"`
	Verified   bool      `json:"verified"`
	VerifiedAt time.Time `json:"verified_at"`
}

type Gate struct {
	mu        sync.RWMutex
	records   map[string]Record
	questions []config.Question
	answers   map[string]struct{}
	now       func() time.Time
	intN      func(n int) int
}

// NewGate returns a Gate issuing challenges from questions. The accepted
// answers are the union of all answers in the pool, so any of them
// passes whichever question was shown.
func NewGate(questions []config.Question) *Gate {
	g := &Gate{
		records:   make(map[string]Record),
		questions: questions,
		answers:   make(map[string]struct{}),
		now:       time.Now,
		intN:      rand.IntN,
	}

	for _, q := range questions {
		g.answers[normalize(q.Answer)] = struct{}{}
	}

	return g
}

func normalize(answer string) string {
	return strings.ToLower(moderation.Sanitize(answer))
}

func (g *Gate) IssueChallenge() Challenge {
	q := g.questions[g.intN(len(g.questions))]
	return Challenge{Question: q.Question, Answer: q.Answer}
}

func (g *Gate) CheckAnswer(answer string) bool {
	_, ok := g.answers[normalize(answer)]
	return ok
}

// MarkVerified records sessionId as verified. The first record wins.
func (g *Gate) MarkVerified(sessionId string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.records[sessionId]; ok {
		return
	}

	g.records[sessionId] = Record{
		SessionId:  sessionId,
		Verified:   true,
		VerifiedAt: g.now(),
	}
}

func (g *Gate) IsVerified(sessionId string) bool {
	if sessionId == "" {
		return false
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.records[sessionId].Verified
}

func (g *Gate) Record(sessionId string) (Record, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.records[sessionId]
	return r, ok
}

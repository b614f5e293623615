// Package report keeps user reports in memory for the lifetime of the
// process.
package report

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/teris-io/shortid"
)

type Report struct {
	Id              string    `json:"id"`
	ReportedUser    string    `json:"reported_user"`
	Reason          string    `json:"reason"`
	Description     string    `json:"description,omitempty"`
	ReporterSession string    `json:"reporter_session"`
	Timestamp       time.Time `json:"timestamp"`
}

type Log struct {
	log        *log.Logger
	mu         sync.RWMutex
	reports    []Report
	generateId func() (string, error)
	now        func() time.Time
}

func NewLog(logger *log.Logger) *Log {
	return &Log{
		log:        logger,
		generateId: shortid.Generate,
		now:        time.Now,
	}
}

// Add assigns an id and timestamp to r and stores it.
func (l *Log) Add(r Report) (Report, error) {
	id, err := l.generateId()
	if err != nil {
		return Report{}, fmt.Errorf("generate report id: %w", err)
	}

	r.Id = id
	r.Timestamp = l.now().UTC()

	l.mu.Lock()
	l.reports = append(l.reports, r)
	l.mu.Unlock()

	l.log.Printf("user report %s: %q reported for %q", r.Id, r.ReportedUser, r.Reason)
	return r, nil
}

func (l *Log) List() []Report {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Report, len(l.reports))
	copy(out, l.reports)
	return out
}

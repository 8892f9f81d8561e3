package workflow

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

var runNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/fyrsmithlabs/autopilot/runs"))

// NewRunID derives a run id from the project id and acceptance time.
// The same inputs always yield the same id.
func NewRunID(projectID string, at time.Time) string {
	name := projectID + "|" + at.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(runNamespace, []byte(name)).String()
}

// IDSource hands out run ids whose timestamps strictly increase, so two
// requests accepted within the same clock tick still get distinct ids.
type IDSource struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

// NewIDSource returns an IDSource on the wall clock. now may be nil.
func NewIDSource(now func() time.Time) *IDSource {
	if now == nil {
		now = time.Now
	}
	return &IDSource{now: now}
}

// Next returns a fresh id for projectID together with the timestamp it encodes.
func (s *IDSource) Next(projectID string) (string, time.Time) {
	s.mu.Lock()
	at := s.now().UTC()
	if !at.After(s.last) {
		at = s.last.Add(time.Nanosecond)
	}
	s.last = at
	s.mu.Unlock()
	return NewRunID(projectID, at), at
}

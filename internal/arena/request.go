package arena

import (
	"errors"
	"fmt"
	"strings"

	"duckrace/server/internal/race"
)

// ErrInvalidRequest marks requests rejected before any simulation runs.
var ErrInvalidRequest = errors.New("invalid race request")

// Request is the inbound description of a race to simulate.
type Request struct {
	Title        string             `json:"title"`
	Mode         string             `json:"mode,omitempty"`
	Seed         *int64             `json:"seed,omitempty"`
	Participants []race.Participant `json:"participants"`
}

// Validate checks the request shape. A non-positive maxParticipants disables the roster cap.
func (r Request) Validate(maxParticipants int) error {
	var problems []string
	if strings.TrimSpace(r.Title) == "" {
		problems = append(problems, "title is required")
	}
	switch {
	case len(r.Participants) == 0:
		problems = append(problems, "at least one participant is required")
	case maxParticipants > 0 && len(r.Participants) > maxParticipants:
		problems = append(problems, fmt.Sprintf("at most %d participants are allowed, got %d", maxParticipants, len(r.Participants)))
	}
	for i, p := range r.Participants {
		if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "" {
			problems = append(problems, fmt.Sprintf("participant %d needs an id and a name", i+1))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

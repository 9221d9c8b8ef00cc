// Package advisory asks independent advisory sources whether a candidate
// is worth buying and folds their answers into one consensus decision.
package advisory

import (
	"context"
	"errors"

	"github.com/wonny/cyclebot/internal/contracts"
)

// ErrNoVerdict is returned when a source answers without a recommendation
var ErrNoVerdict = errors.New("response carries no recommendation")

// Source is one advisory provider
type Source interface {
	ID() string
	Advise(ctx context.Context, req contracts.AdvisoryRequest) (Opinion, error)
}

// Opinion is a source's raw answer
type Opinion struct {
	Recommended bool   `json:"recommended"`
	Rationale   string `json:"rationale"`
}

// opinionPayload is the wire form; Recommended must be present
type opinionPayload struct {
	Recommended *bool  `json:"recommended"`
	Rationale   string `json:"rationale"`
}

func (p opinionPayload) opinion() (Opinion, error) {
	if p.Recommended == nil {
		return Opinion{}, ErrNoVerdict
	}
	return Opinion{Recommended: *p.Recommended, Rationale: p.Rationale}, nil
}

package main

import (
	"context"
	"errors"

	"github.com/crewline/crewline/pkg/sentinel"
)

// runSentinel wraps the watch command in a supervisor that restarts it when
// this binary is replaced on disk, so deployed updates roll out on their own.
func runSentinel(ctx context.Context) error {
	s, err := sentinel.New("watch")
	if err != nil {
		return err
	}
	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

package app

import (
	"errors"

	localio "github.com/shpitdev/vocab-enricher/pkg/pipeline/io/local"
)

// Progress is the resume state of an input/output pair.
type Progress struct {
	Input     string
	Output    string
	Total     int
	Completed int
	// Corrupt is set when the checkpoint exists but cannot be parsed; a run restarts it.
	Corrupt bool
}

// Remaining is the number of records a run would still process.
func (p Progress) Remaining() int {
	if p.Corrupt {
		return p.Total
	}
	return max(0, p.Total-p.Completed)
}

// Overflow reports a checkpoint longer than the input.
func (p Progress) Overflow() bool {
	return !p.Corrupt && p.Completed > p.Total
}

// Status reads the input and checkpoint without calling any backend.
func Status(input, output string) (Progress, error) {
	if err := CheckInput(input); err != nil {
		return Progress{}, err
	}
	output, err := resolveOutput(input, output)
	if err != nil {
		return Progress{}, err
	}
	p := Progress{Input: input, Output: output}

	recs, err := localio.LoadInput(input)
	if err != nil {
		return p, err
	}
	p.Total = len(recs)

	done, err := localio.LoadProgress(output)
	var corrupt *localio.CheckpointCorruptionError
	switch {
	case errors.As(err, &corrupt):
		p.Corrupt = true
	case err != nil:
		return p, err
	default:
		p.Completed = len(done)
	}
	return p, nil
}

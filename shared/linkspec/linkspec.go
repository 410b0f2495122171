// Package linkspec parses stream link specifications of the form
// <TARGET>:<SOURCE> where each side is [<cmdNo>.]<fd>.
//
// cmdNo is the 1-based index of a declared child command; 0 refers to the
// harness itself. fd is the standard descriptor role inside the referenced
// process: 0 for input, 1 for output, 2 for error.
package linkspec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalid wraps every parse or validation failure.
var ErrInvalid = errors.New("invalid link specification")

// Side is one half of a link specification.
type Side struct {
	Cmd int
	FD  int
}

// Spec is a parsed <TARGET>:<SOURCE> pair.
type Spec struct {
	Target Side
	Source Side
}

func (s Spec) String() string {
	return fmt.Sprintf("CH%02d.%d<-CH%02d.%d", s.Target.Cmd, s.Target.FD, s.Source.Cmd, s.Source.FD)
}

// parseSide splits one side of a spec. A bare number is read as the cmdNo
// with fd 0 on the target side, and as the fd of the harness on the source
// side, matching the historical short forms "2:1.1" and "2.0:1".
func parseSide(s string, target bool) (Side, error) {
	cmdStr, fdStr, dotted := strings.Cut(s, ".")

	first, err := strconv.Atoi(cmdStr)
	if err != nil {
		return Side{}, fmt.Errorf("%w: bad number %q", ErrInvalid, cmdStr)
	}

	if !dotted {
		if target {
			return Side{Cmd: first, FD: 0}, nil
		}

		return Side{Cmd: 0, FD: first}, nil
	}

	fd, err := strconv.Atoi(fdStr)
	if err != nil {
		return Side{}, fmt.Errorf("%w: bad descriptor %q", ErrInvalid, fdStr)
	}

	return Side{Cmd: first, FD: fd}, nil
}

// Parse splits spec into its target and source sides. Only syntax is
// checked here; use Validate for the semantic rules.
func Parse(spec string) (Spec, error) {
	targetStr, sourceStr, found := strings.Cut(spec, ":")
	if !found || targetStr == "" || sourceStr == "" {
		return Spec{}, fmt.Errorf("%w: %q is not <TARGET>:<SOURCE>", ErrInvalid, spec)
	}

	target, err := parseSide(targetStr, true)
	if err != nil {
		return Spec{}, err
	}

	source, err := parseSide(sourceStr, false)
	if err != nil {
		return Spec{}, err
	}

	return Spec{Target: target, Source: source}, nil
}

// Validate applies the semantic rules against the number of declared
// children: cmdNo within [0, nChildren], target fd must be an input,
// source fd must be an output or error.
func (s Spec) Validate(nChildren int) error {
	if s.Target.Cmd < 0 || s.Target.Cmd > nChildren || s.Source.Cmd < 0 || s.Source.Cmd > nChildren {
		return fmt.Errorf("%w: command number out of range in %s", ErrInvalid, s)
	}

	if s.Target.FD != 0 {
		return fmt.Errorf("%w: target must be an input descriptor in %s", ErrInvalid, s)
	}

	if s.Source.FD != 1 && s.Source.FD != 2 {
		return fmt.Errorf("%w: source must be an output or error descriptor in %s", ErrInvalid, s)
	}

	return nil
}

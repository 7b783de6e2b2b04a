// Package prompt asks the operator a yes/no question on the terminal,
// generalizing the original engine's queryYesNo.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Confirm prints question to w, reads a line from r, and interprets it
// as yes/no. An empty answer falls back to def when non-nil; if def is
// nil, an empty answer re-asks the question. Any other unrecognized
// answer prints a hint and re-asks, so Confirm keeps reading lines until
// it gets a valid answer. At end of input it returns def when non-nil,
// or an error otherwise. Recognized affirmative answers: y, yes (case
// insensitive). Recognized negative answers: n, no.
func Confirm(r io.Reader, w io.Writer, question string, def *bool) (bool, error) {
	suffix := " [y/n] "
	if def != nil {
		if *def {
			suffix = " [Y/n] "
		} else {
			suffix = " [y/N] "
		}
	}
	fmt.Fprint(w, question+suffix)

	scanner := bufio.NewScanner(r)
	for {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return false, err
			}
			if def != nil {
				return *def, nil
			}
			return false, fmt.Errorf("prompt: no answer given")
		}

		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		switch answer {
		case "":
			if def != nil {
				return *def, nil
			}
			fmt.Fprint(w, question+suffix)
			continue
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		default:
			fmt.Fprintf(w, "please answer y or n\n%s%s", question, suffix)
		}
	}
}

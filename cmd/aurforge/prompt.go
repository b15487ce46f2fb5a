package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kiviktnm/aurforge/internal/aerr"
)

// stdinPrompter asks y/n questions on the controlling terminal. It is the
// concrete builder.Prompter wired into the CLI's Reconciler; defaults to
// "no" on EOF so a piped/non-interactive invocation never silently builds
// an unreviewed package.
type stdinPrompter struct {
	reader *bufio.Reader
}

func newStdinPrompter() *stdinPrompter {
	return &stdinPrompter{reader: bufio.NewReader(os.Stdin)}
}

func (p *stdinPrompter) Confirm(question string) (bool, error) {
	fmt.Printf("%s [y/N] ", question)

	line, err := p.reader.ReadString('\n')
	if err != nil {
		return false, nil //nolint:nilerr // EOF on a non-interactive run means "decline"
	}

	answer := strings.ToLower(strings.TrimSpace(line))

	return answer == "y" || answer == "yes", nil
}

// stdinSelector asks the user to pick one of several candidate providers
// for an ambiguous dependency, defaulting to index 0 when run
// non-interactively.
type stdinSelector struct {
	reader *bufio.Reader
}

func newStdinSelector() *stdinSelector {
	return &stdinSelector{reader: bufio.NewReader(os.Stdin)}
}

func (s *stdinSelector) Select(dependency string, candidates []string) (int, error) {
	fmt.Printf("Multiple packages provide %q:\n", dependency)

	for i, candidate := range candidates {
		fmt.Printf("  %d) %s\n", i+1, candidate)
	}

	fmt.Print("Select a provider [1]: ")

	line, err := s.reader.ReadString('\n')
	if err != nil {
		return 0, nil //nolint:nilerr // EOF on a non-interactive run means "take the first candidate"
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return 0, nil
	}

	index, err := strconv.Atoi(line)
	if err != nil || index < 1 || index > len(candidates) {
		return 0, aerr.Newf(aerr.KindValidation, "invalid provider selection %q", line)
	}

	return index - 1, nil
}

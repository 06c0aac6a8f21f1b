package app

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"luks-keeper/internal/secret"
)

// Prompter asks the operator for secrets and confirmations.
type Prompter interface {
	// Secret reads a secret without echo. The caller zeroes the result.
	Secret(label string) ([]byte, error)
	// Confirm asks a yes/no question; anything but y or yes is no.
	Confirm(question string) (bool, error)
}

// TerminalPrompter prompts on stderr and reads from stdin. When stdin is
// not a terminal it reads one line per prompt, so secrets can be piped in.
type TerminalPrompter struct {
	in     *os.File
	out    io.Writer
	reader *bufio.Reader
}

// NewTerminalPrompter creates a prompter on the process's stdin and stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{in: os.Stdin, out: os.Stderr, reader: bufio.NewReader(os.Stdin)}
}

func (p *TerminalPrompter) Secret(label string) ([]byte, error) {
	fd := int(p.in.Fd())
	if !term.IsTerminal(fd) {
		line, err := p.readLine()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
		}
		return []byte(line), nil
	}

	fmt.Fprintf(p.out, "%s: ", label)
	value, err := term.ReadPassword(fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", strings.ToLower(label), err)
	}
	return value, nil
}

func (p *TerminalPrompter) Confirm(question string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N]: ", question)
	line, err := p.readLine()
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func (p *TerminalPrompter) readLine() (string, error) {
	line, err := p.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readNewSecret asks for a secret twice and returns it only when both
// entries match and are not blank.
func readNewSecret(p Prompter, label string) ([]byte, error) {
	first, err := p.Secret(label)
	if err != nil {
		return nil, err
	}
	second, err := p.Secret("Repeat " + label)
	if err != nil {
		secret.Zero(first)
		return nil, err
	}
	defer secret.Zero(second)

	if string(first) != string(second) {
		secret.Zero(first)
		return nil, fmt.Errorf("entries do not match")
	}
	if strings.TrimSpace(string(first)) == "" {
		secret.Zero(first)
		return nil, fmt.Errorf("empty passphrase")
	}
	return first, nil
}

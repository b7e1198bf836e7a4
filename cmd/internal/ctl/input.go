package ctl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"
)

// Test seams for the terminal.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

// fdReader is satisfied by *os.File.
type fdReader interface {
	io.Reader
	Fd() uintptr
}

var errPasswordMismatch = errors.New("passwords do not match")

// readAdminPassword reads the first stdin line when fromStdin is set, and
// otherwise prompts twice on the terminal without echo.
func readAdminPassword(stdin io.Reader, w io.Writer, fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", fmt.Errorf("read password from stdin: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	f, ok := stdin.(fdReader)
	if !ok || !isTerminal(int(f.Fd())) {
		return "", fmt.Errorf("%w: stdin is not a terminal, use -password-stdin", errUsage)
	}

	pw, err := prompt(w, f, "Password: ")
	if err != nil {
		return "", err
	}
	confirm, err := prompt(w, f, "Confirm password: ")
	if err != nil {
		return "", err
	}
	if pw != confirm {
		return "", errPasswordMismatch
	}
	return pw, nil
}

func prompt(w io.Writer, f fdReader, label string) (string, error) {
	if _, err := fmt.Fprint(w, label); err != nil {
		return "", err
	}
	b, err := readPassword(int(f.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

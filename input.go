package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/google/uuid"
)

// contentNamespace scopes identifiers derived from text.
var contentNamespace = uuid.MustParse("9a0f6f0e-3c1b-4a4e-9d55-7c1f2f6f8b21")

// contentIDFor returns a stable identifier for text.
func contentIDFor(text string) string {
	return uuid.NewSHA1(contentNamespace, []byte(text)).String()
}

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to open file: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

// readText returns the text to work on and a name for it: the clipboard,
// stdin ("-" or a pipe) or a file.
func readText(args []string, fromClipboard bool) (text, name string, err error) {
	switch {
	case fromClipboard:
		text, err = clipboard.ReadAll()
		if err != nil {
			return "", "", fmt.Errorf("unable to read clipboard: %w", err)
		}
		name = "clipboard"
	case len(args) == 0 || args[0] == "-":
		if len(args) == 0 {
			pipe, err := stdinIsPipe()
			if err != nil {
				return "", "", err
			}
			if !pipe {
				return "", "", errors.New("no input: pass a file, pipe text or use --clipboard")
			}
		}
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", fmt.Errorf("unable to read from stdin: %w", err)
		}
		text, name = string(b), "stdin"
	default:
		b, err := os.ReadFile(args[0])
		if err != nil {
			return "", "", fmt.Errorf("unable to open file: %w", err)
		}
		text, name = string(b), args[0]
	}

	if strings.TrimSpace(text) == "" {
		return "", "", errors.New("input is empty")
	}
	return text, name, nil
}

package ui

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNoInput is returned when the input stream closes before an answer.
var ErrNoInput = errors.New("no input")

func (c *Console) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		if errors.Is(err, io.EOF) {
			return "", ErrNoInput
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Prompt asks for a line of input.
func (c *Console) Prompt(message string) (string, error) {
	fmt.Fprintf(c.out, "%s: ", message)
	return c.readLine()
}

// PromptWithDefault asks for input, returning defaultValue on an empty answer.
func (c *Console) PromptWithDefault(message, defaultValue string) (string, error) {
	fmt.Fprintf(c.out, "%s [%s]: ", message, defaultValue)
	answer, err := c.readLine()
	if err != nil {
		return "", err
	}
	if answer == "" {
		return defaultValue, nil
	}
	return answer, nil
}

// Confirm asks a yes/no question.
func (c *Console) Confirm(message string, defaultValue bool) (bool, error) {
	hint := "y/N"
	if defaultValue {
		hint = "Y/n"
	}
	fmt.Fprintf(c.out, "%s [%s]: ", message, hint)
	answer, err := c.readLine()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "":
		return defaultValue, nil
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// PromptInt asks for an integer in [min, max], re-asking until one is given.
func (c *Console) PromptInt(message string, defaultValue, min, max int) (int, error) {
	for {
		answer, err := c.PromptWithDefault(fmt.Sprintf("%s (%d-%d)", message, min, max), strconv.Itoa(defaultValue))
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(answer)
		if err != nil || n < min || n > max {
			c.Warning("Enter a number between %d and %d", min, max)
			continue
		}
		return n, nil
	}
}

// PromptChoice lists options and returns the zero-based index picked.
func (c *Console) PromptChoice(message string, options []string) (int, error) {
	if len(options) == 0 {
		return 0, errors.New("no options to choose from")
	}
	fmt.Fprintln(c.out, message)
	for i, opt := range options {
		fmt.Fprintf(c.out, "  %d) %s\n", i+1, opt)
	}
	n, err := c.PromptInt("Choice", 1, 1, len(options))
	if err != nil {
		return 0, err
	}
	return n - 1, nil
}

// PromptFilePath asks for the path of an existing regular file.
func (c *Console) PromptFilePath(message string) (string, error) {
	for {
		answer, err := c.Prompt(message)
		if err != nil {
			return "", err
		}
		if answer == "" {
			continue
		}
		path := expandHome(strings.Trim(answer, `"'`))
		info, err := os.Stat(path)
		if err != nil {
			c.Warning("Cannot access %s", path)
			continue
		}
		if info.IsDir() {
			c.Warning("%s is a directory", path)
			continue
		}
		return path, nil
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

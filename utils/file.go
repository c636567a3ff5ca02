package utils

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

// RecipientLine is one "address,amount" entry of a recipients file
type RecipientLine struct {
	Line    int
	Address string
	Amount  string
}

// ReadDataFromFile reads non-empty lines from a file, skipping '#' comments
func ReadDataFromFile(filepath string) ([]string, error) {
	f, err := os.Open(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s, error: %s", filepath, err.Error())
	}
	defer func(f *os.File) {
		err := f.Close()
		if err != nil {
			log.Warn("Failed to close file", "path", filepath, "err", err)
		}
	}(f)

	log.Debug("Loading data", "path", filepath)

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filepath, err)
	}

	log.Debug("Records loaded", "path", filepath, "count", len(lines))
	return lines, nil
}

// ParseRecipientLines splits "address,amount" (or whitespace separated) lines.
// Blank lines and lines starting with '#' are skipped; line numbers are 1-based.
func ParseRecipientLines(lines []string) ([]RecipientLine, error) {
	var out []RecipientLine
	for i, line := range lines {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ';' || r == ' ' || r == '\t'
		})
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected 'address,amount', got %q", i+1, line)
		}
		out = append(out, RecipientLine{Line: i + 1, Address: fields[0], Amount: fields[1]})
	}
	return out, nil
}

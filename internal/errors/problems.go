package errors

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Severity of a problem reported by a build tool.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// maxProblems bounds how many problems are kept from one output.
const maxProblems = 50

// Problem is a diagnostic extracted from build tool output. File is as the
// tool printed it and may be relative to the task's working directory.
type Problem struct {
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// String renders p the way compilers print locations.
func (p Problem) String() string {
	switch {
	case p.File == "":
		return p.Message
	case p.Line == 0:
		return fmt.Sprintf("%s: %s", p.File, p.Message)
	case p.Column == 0:
		return fmt.Sprintf("%s:%d: %s", p.File, p.Line, p.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s", p.File, p.Line, p.Column, p.Message)
}

type problemPattern struct {
	regex *regexp.Regexp
	parse func(m []string) Problem
}

var (
	// A location line following a bare "error: ..." line, as typst prints.
	arrowLocation = regexp.MustCompile(`^\s*(?:┌─|-->)\s*(.+?):(\d+):(\d+)\s*$`)
	// "l.12 ..." follows a LaTeX "! ..." error.
	latexLine = regexp.MustCompile(`^l\.(\d+)\b`)

	problemPatterns = []problemPattern{
		{
			// paper.md:3:7: error: message (gcc, go, typst, mystmd)
			regex: regexp.MustCompile(`^(\S+?\.\w+):(\d+):(\d+):\s*(?:(error|warning|note):\s*)?(.+)$`),
			parse: func(m []string) Problem {
				return Problem{File: m[1], Line: atoi(m[2]), Column: atoi(m[3]), Severity: severityOf(m[4]), Message: m[5]}
			},
		},
		{
			// ./paper.tex:12: Undefined control sequence. (latex -file-line-error)
			regex: regexp.MustCompile(`^(\S+?\.\w+):(\d+):\s*(?:(error|warning|note):\s*)?(.+)$`),
			parse: func(m []string) Problem {
				return Problem{File: m[1], Line: atoi(m[2]), Severity: severityOf(m[3]), Message: m[4]}
			},
		},
		{
			// Error at "paper.md" (line 3, column 1): message (pandoc)
			regex: regexp.MustCompile(`^(Error|Warning) at "(.+?)" \(line (\d+), column (\d+)\):?\s*(.*)$`),
			parse: func(m []string) Problem {
				return Problem{File: m[2], Line: atoi(m[3]), Column: atoi(m[4]), Severity: severityOf(m[1]), Message: m[5]}
			},
		},
		{
			// [WARNING] Could not fetch resource (pandoc)
			regex: regexp.MustCompile(`^\[(WARNING|ERROR)\]\s*(.+)$`),
			parse: func(m []string) Problem {
				return Problem{Severity: severityOf(m[1]), Message: m[2]}
			},
		},
		{
			// error: message (typst, followed by a location line)
			regex: regexp.MustCompile(`^(error|warning):\s*(.+)$`),
			parse: func(m []string) Problem {
				return Problem{Severity: severityOf(m[1]), Message: m[2]}
			},
		},
		{
			// ! LaTeX Error: File `x.sty' not found.
			regex: regexp.MustCompile(`^!\s*(.+)$`),
			parse: func(m []string) Problem {
				return Problem{Severity: SeverityError, Message: m[1]}
			},
		},
	}
)

// ParseProblems extracts diagnostics from build tool output. Lines that
// match no known format but mention an error or failure are kept without a
// location.
func ParseProblems(output string) []Problem {
	var problems []Problem
	seen := make(map[Problem]bool)
	add := func(p Problem) {
		if p.Message == "" || seen[p] || len(problems) >= maxProblems {
			return
		}
		seen[p] = true
		problems = append(problems, p)
	}

	lines := strings.Split(output, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		p, ok := parseProblem(line)
		if !ok {
			lower := strings.ToLower(line)
			if strings.Contains(lower, "error") || strings.Contains(lower, "failed") {
				add(Problem{Severity: SeverityError, Message: line})
			}
			continue
		}

		// pandoc prints the message on the line after the location.
		if p.Message == "" && i+1 < len(lines) {
			i++
			p.Message = strings.TrimSpace(lines[i])
		}

		// Pick up the location printed on the following lines.
		if p.File == "" {
			for j := i + 1; j < len(lines) && j <= i+3; j++ {
				next := lines[j]
				if m := arrowLocation.FindStringSubmatch(next); m != nil {
					p.File, p.Line, p.Column = m[1], atoi(m[2]), atoi(m[3])
					i = j
					break
				}
				if m := latexLine.FindStringSubmatch(strings.TrimSpace(next)); m != nil {
					p.Line = atoi(m[1])
					i = j
					break
				}
			}
		}
		add(p)
	}
	return problems
}

func parseProblem(line string) (Problem, bool) {
	for _, pattern := range problemPatterns {
		if m := pattern.regex.FindStringSubmatch(line); m != nil {
			p := pattern.parse(m)
			p.Message = strings.TrimSpace(p.Message)
			return p, true
		}
	}
	return Problem{}, false
}

// FirstError returns the first error-severity problem.
func FirstError(problems []Problem) (Problem, bool) {
	for _, p := range problems {
		if p.Severity == SeverityError {
			return p, true
		}
	}
	return Problem{}, false
}

func severityOf(s string) Severity {
	switch strings.ToLower(s) {
	case "warning", "note":
		return SeverityWarning
	}
	return SeverityError
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

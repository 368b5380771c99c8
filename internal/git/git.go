package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

type ChangedFile struct {
	Path         string
	ChangedLines []int
}

// Regex for chunk header: @@ -oldStart,oldLen +newStart,newLen @@
// Only the + side matters.
var chunkHeader = regexp.MustCompile(`^@@ -\d+(?:,\d+)? \+(\d+)(?:,(\d+))? @@`)

// GetChangedFiles runs git diff in dir and returns the changed Python files
// with their changed line numbers in the working tree.
func GetChangedFiles(ctx context.Context, dir, baseRef string) ([]ChangedFile, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "-U0", "--no-color", baseRef, "--", "*.py")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("git diff failed: %w: %s", err, strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("git diff failed: %w", err)
	}

	changes, err := parseDiff(output)
	if err != nil {
		return nil, err
	}
	for i := range changes {
		changes[i].Path = filepath.Join(dir, changes[i].Path)
	}
	return changes, nil
}

func parseDiff(output []byte) ([]ChangedFile, error) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var changes []ChangedFile
	var currentFile *ChangedFile

	flush := func() {
		if currentFile != nil && currentFile.Path != "" && strings.HasSuffix(currentFile.Path, ".py") {
			changes = append(changes, *currentFile)
		}
		currentFile = nil
	}

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "diff --git") {
			flush()
			currentFile = &ChangedFile{ChangedLines: []int{}}
			continue
		}
		if currentFile == nil {
			continue
		}

		switch {
		case strings.HasPrefix(line, "+++ "):
			// +++ b/path, or /dev/null for a deleted file
			target := strings.TrimPrefix(line, "+++ ")
			if target == "/dev/null" {
				currentFile.Path = ""
			} else {
				currentFile.Path = strings.TrimPrefix(target, "b/")
			}
		case strings.HasPrefix(line, "@@"):
			matches := chunkHeader.FindStringSubmatch(line)
			if matches == nil {
				return nil, fmt.Errorf("malformed hunk header %q", line)
			}
			startLine, err := strconv.Atoi(matches[1])
			if err != nil {
				return nil, fmt.Errorf("malformed hunk header %q: %w", line, err)
			}
			count := 1 // Default length is 1 if omitted
			if matches[2] != "" {
				count, _ = strconv.Atoi(matches[2])
			}
			// A pure deletion adds no lines; mark the line it sits after so
			// the enclosing function is still re-verified.
			if count == 0 {
				currentFile.ChangedLines = append(currentFile.ChangedLines, max(startLine, 1))
				continue
			}
			for i := 0; i < count; i++ {
				currentFile.ChangedLines = append(currentFile.ChangedLines, startLine+i)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()

	return changes, nil
}

// Touches reports whether any changed line falls inside [start, end] of
// path. It matches the signature the pipeline uses to filter functions.
func Touches(changes []ChangedFile) func(path string, start, end int) bool {
	byPath := make(map[string][]int, len(changes))
	for _, c := range changes {
		lines := append([]int(nil), c.ChangedLines...)
		sort.Ints(lines)
		byPath[filepath.Clean(c.Path)] = lines
	}
	return func(path string, start, end int) bool {
		lines := byPath[filepath.Clean(path)]
		i := sort.SearchInts(lines, start)
		return i < len(lines) && lines[i] <= end
	}
}

// Paths lists the files of changes.
func Paths(changes []ChangedFile) []string {
	out := make([]string, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.Path)
	}
	return out
}

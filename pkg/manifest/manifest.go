// Package manifest parses the slide manifest: the flat text file mapping
// each slide's unique id and z-position to its raw image file.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"histostack/internal/models"
	"histostack/pkg/stackerr"
)

// Parse reads whitespace-delimited manifest lines of the form
// "<unique_id> <z_position> <raw_filename>" from r. Blank lines are
// skipped. raw_filename is resolved relative to baseDir if it is not
// already absolute, and must exist on disk.
func Parse(r io.Reader, baseDir string) ([]models.Slide, error) {
	var slides []models.Slide
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, &stackerr.ManifestError{Line: lineNo, Msg: "expected 3 whitespace-delimited fields: <unique_id> <z_position> <raw_filename>"}
		}

		id, zRaw, rawFilename := fields[0], fields[1], fields[2]
		z, err := strconv.ParseFloat(zRaw, 64)
		if err != nil {
			return nil, &stackerr.ManifestError{Line: lineNo, Msg: fmt.Sprintf("z_position %q is not a number: %v", zRaw, err)}
		}

		path := rawFilename
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, rawFilename)
		}
		if _, err := os.Stat(path); err != nil {
			return nil, &stackerr.ManifestError{Line: lineNo, Msg: "referenced file does not exist: " + path}
		}

		slides = append(slides, models.Slide{UniqueID: id, Z: z, Path: path})
	}
	if err := scanner.Err(); err != nil {
		return nil, &stackerr.ManifestError{Line: lineNo, Msg: "reading manifest: " + err.Error()}
	}
	return slides, nil
}

// Load opens and parses the manifest file at path, resolving relative
// raw_filename fields against path's containing directory.
func Load(path string) ([]models.Slide, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &stackerr.ProjectIOError{Path: path, Err: err}
	}
	defer f.Close()
	return Parse(f, filepath.Dir(path))
}

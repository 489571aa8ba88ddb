package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/toricodesthings/compound-association-service/internal/types"
)

var errMissingRange = errors.New("no page range given and no -r default")

// manifest is the YAML job file: jobs: [{path, range, format}].
type manifest struct {
	Jobs []manifestEntry `yaml:"jobs"`
}

type manifestEntry struct {
	Path   string `yaml:"path"`
	Range  string `yaml:"range"`
	Format string `yaml:"format"`
}

// jobSource collects the three ways of naming documents.
type jobSource struct {
	File         string
	ListPath     string
	ManifestPath string
	Range        string
	Format       types.OutputFormat
}

// entryError is a configuration error for one job entry. The entry is not
// queued.
type entryError struct {
	Where string
	Err   error
}

func (e *entryError) Error() string { return e.Where + ": " + e.Err.Error() }
func (e *entryError) Unwrap() error { return e.Err }

// build returns the jobs to queue and one error per rejected entry.
func (s jobSource) build() ([]types.DocumentJob, []error) {
	var (
		jobs []types.DocumentJob
		errs []error
	)
	add := func(where, path, rng, format string) {
		job, err := s.job(path, rng, format)
		if err != nil {
			errs = append(errs, &entryError{Where: where, Err: err})
			return
		}
		jobs = append(jobs, job)
	}

	if s.File != "" {
		add(s.File, s.File, "", "")
	}

	if s.ListPath != "" {
		f, err := os.Open(s.ListPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("open job list: %w", err))
		} else {
			entries, err := parseList(f)
			_ = f.Close()
			if err != nil {
				errs = append(errs, err)
			}
			for _, e := range entries {
				add(fmt.Sprintf("%s:%d", s.ListPath, e.line), e.path, e.rng, "")
			}
		}
	}

	if s.ManifestPath != "" {
		m, err := readManifest(s.ManifestPath)
		if err != nil {
			errs = append(errs, err)
		}
		for i, e := range m.Jobs {
			add(fmt.Sprintf("%s: jobs[%d]", s.ManifestPath, i), e.Path, e.Range, e.Format)
		}
	}
	return jobs, errs
}

func (s jobSource) job(path, rng, format string) (types.DocumentJob, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return types.DocumentJob{}, errors.New("empty document path")
	}
	if strings.TrimSpace(rng) == "" {
		rng = s.Range
	}
	if strings.TrimSpace(rng) == "" {
		return types.DocumentJob{}, errMissingRange
	}
	pr, err := types.ParseRange(rng)
	if err != nil {
		return types.DocumentJob{}, err
	}
	of := s.Format
	if strings.TrimSpace(format) != "" {
		if of, err = types.ParseOutputFormat(format); err != nil {
			return types.DocumentJob{}, err
		}
	}
	return types.DocumentJob{FilePath: path, PageRange: pr, OutputFormat: of}, nil
}

type listEntry struct {
	line int
	path string
	rng  string
}

// parseList reads "<path> [range]" lines. Blank lines and lines starting with
// '#' are skipped.
func parseList(r io.Reader) ([]listEntry, error) {
	var out []listEntry
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		e := listEntry{line: n, path: fields[0]}
		switch len(fields) {
		case 1:
		case 2:
			e.rng = fields[1]
		default:
			// ParseRange rejects it.
			e.rng = strings.Join(fields[1:], " ")
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("read job list: %w", err)
	}
	return out, nil
}

func readManifest(path string) (manifest, error) {
	var m manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}

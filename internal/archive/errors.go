package archive

import "fmt"

// HashMismatchError indicates a downloaded archive's SHA-256 digest did not
// match what the oracle advertised (§4.5, §7: integrity error, exit code 3).
type HashMismatchError struct {
	Filename string
	Expected string
	Got      string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("sha256 mismatch for %s: expected %s, got %s", e.Filename, e.Expected, e.Got)
}

// MalformedArchiveError indicates a wheel or sdist failed to open as a
// well-formed ZIP/tarball.
type MalformedArchiveError struct {
	Filename string
	Err      error
}

func (e *MalformedArchiveError) Error() string {
	return fmt.Sprintf("malformed archive %s: %v", e.Filename, e.Err)
}

func (e *MalformedArchiveError) Unwrap() error { return e.Err }

// BuildFailedError indicates a PEP 517 / setup.py bdist_wheel sdist build
// failed; Stderr carries the build's captured output for diagnosis (§7).
type BuildFailedError struct {
	Package string
	Stderr  string
	Err     error
}

func (e *BuildFailedError) Error() string {
	return fmt.Sprintf("building %s from sdist failed: %v\n%s", e.Package, e.Err, e.Stderr)
}

func (e *BuildFailedError) Unwrap() error { return e.Err }

// NetworkError wraps a transient network failure that exhausted retries.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

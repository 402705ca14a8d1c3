package interp_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/bilusteknoloji/pyflow/internal/interp"
)

func fakeRunner(output string, err error) interp.CommandRunner {
	return func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return []byte(output), err
	}
}

func TestDetectReportsInterpreterFacts(t *testing.T) {
	svc := interp.New(
		interp.WithCommandRunner(fakeRunner(
			"/home/user/myproject/__pypackages__/3.12\n"+
				"/home/user/myproject/__pypackages__/3.12/lib/python3.12/site-packages\n"+
				"linux-x86_64\n"+
				"312\n"+
				"/usr/bin/python3.12\n", nil,
		)),
	)

	env, err := svc.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}

	if env.IsVirtualEnv {
		t.Error("expected a fresh probe to leave IsVirtualEnv false; callers set it once they know the install target")
	}
	if env.Prefix != "/home/user/myproject/__pypackages__/3.12" {
		t.Errorf("unexpected prefix: %q", env.Prefix)
	}
	if env.SitePackages != "/home/user/myproject/__pypackages__/3.12/lib/python3.12/site-packages" {
		t.Errorf("unexpected site-packages: %q", env.SitePackages)
	}
	if env.PlatformTag != "linux-x86_64" {
		t.Errorf("expected platform tag %q, got %q", "linux-x86_64", env.PlatformTag)
	}
	if env.PythonVersion != "312" {
		t.Errorf("expected python version %q, got %q", "312", env.PythonVersion)
	}
	if env.PythonPath != "/usr/bin/python3.12" {
		t.Errorf("expected python path %q, got %q", "/usr/bin/python3.12", env.PythonPath)
	}
}

func TestDetectCustomPythonBin(t *testing.T) {
	var capturedName string

	svc := interp.New(
		interp.WithPythonBin("/usr/local/bin/python3.12"),
		interp.WithCommandRunner(func(_ context.Context, name string, _ ...string) ([]byte, error) {
			capturedName = name

			return []byte("/usr/local\n/usr/local/lib/python3.12/site-packages\nlinux-x86_64\n312\n/usr/local/bin/python3.12\n"), nil
		}),
	)

	env, err := svc.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}

	if capturedName != "/usr/local/bin/python3.12" {
		t.Errorf("expected command %q, got %q", "/usr/local/bin/python3.12", capturedName)
	}
	if env.PythonPath != "/usr/local/bin/python3.12" {
		t.Errorf("expected python path %q, got %q (from sys.executable)", "/usr/local/bin/python3.12", env.PythonPath)
	}
}

func TestDetectPythonNotFound(t *testing.T) {
	svc := interp.New(interp.WithCommandRunner(fakeRunner("", fmt.Errorf("executable not found"))))

	_, err := svc.Detect(context.Background())
	if err == nil {
		t.Fatal("expected error when python binary not found, got nil")
	}
}

func TestDetectUnexpectedOutput(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"empty output", ""},
		{"too few lines", "/usr\n/usr/lib/site-packages\nlinux\n312\n"},
		{"too many lines", "/usr\n/usr/lib/site-packages\nlinux\n312\n/usr/bin/python3\nextra\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := interp.New(interp.WithCommandRunner(fakeRunner(tt.output, nil)))

			_, err := svc.Detect(context.Background())
			if err == nil {
				t.Fatalf("expected error for %s, got nil", tt.name)
			}
		})
	}
}

func TestDetectTrimsWhitespace(t *testing.T) {
	svc := interp.New(
		interp.WithCommandRunner(fakeRunner(
			"  /usr  \n  /usr/lib/python3.12/site-packages  \n  linux-x86_64  \n  312  \n  /usr/bin/python3  \n", nil,
		)),
	)

	env, err := svc.Detect(context.Background())
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}

	if env.Prefix != "/usr" {
		t.Errorf("expected trimmed prefix %q, got %q", "/usr", env.Prefix)
	}
	if env.PythonVersion != "312" {
		t.Errorf("expected trimmed version %q, got %q", "312", env.PythonVersion)
	}
}

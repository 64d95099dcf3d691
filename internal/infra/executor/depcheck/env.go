package depcheck

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// Dependency-Check needs a JVM, and the server process does not always
// inherit the PATH that was updated when Java was installed. ResolveEnv
// builds an independent environment overlay with JAVA_HOME resolved from
// the configured hint or from well-known install roots; the ambient process
// environment is never mutated. When nothing is found the environment is
// returned unmodified and the problem surfaces later as a scan failure
// with an explicit diagnostic.
func ResolveEnv(javaHomeHint string) []string {
	home := resolveJavaHome(javaHomeHint, defaultJDKRoots(), javaExecutable())
	return overlayJava(environCopy(), home)
}

// Common JDK installation bases, probed in order. Within each base the
// version directories are tried newest first (reverse lexicographic).
func defaultJDKRoots() []string {
	if runtime.GOOS == "windows" {
		return []string{
			`C:\Program Files\Eclipse Adoptium`,
			`C:\Program Files\Microsoft`,
			`C:\Program Files\Java`,
			`C:\Program Files\Amazon Corretto`,
		}
	}
	return []string{
		"/usr/lib/jvm",
		"/opt/java",
		"/usr/java",
	}
}

func javaExecutable() string {
	if runtime.GOOS == "windows" {
		return "java.exe"
	}
	return "java"
}

// resolveJavaHome is deterministic and side-effect-free. A hint naming an
// existing directory wins; otherwise the roots are probed and the first
// candidate containing bin/<java> is accepted. Empty result means "not
// found", which is not an error at this layer.
func resolveJavaHome(hint string, roots []string, exe string) string {
	hint = strings.TrimSpace(hint)
	if hint != "" {
		if fi, err := os.Stat(hint); err == nil && fi.IsDir() {
			return hint
		}
	}

	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Sort(sort.Reverse(sort.StringSlice(names)))

		for _, name := range names {
			candidate := filepath.Join(root, name)
			if hasJavaBinary(candidate, exe) {
				return candidate
			}
		}
	}
	return ""
}

func hasJavaBinary(dir, exe string) bool {
	fi, err := os.Stat(filepath.Join(dir, "bin", exe))
	return err == nil && fi.Mode().IsRegular()
}

func environCopy() []string {
	return append([]string(nil), os.Environ()...)
}

// overlayJava returns env with JAVA_HOME set to home and home/bin prepended
// to PATH. The input slice is not modified. An empty home returns the copy
// untouched.
func overlayJava(env []string, home string) []string {
	if home == "" {
		return env
	}
	bin := filepath.Join(home, "bin")

	out := make([]string, 0, len(env)+2)
	pathSeen := false
	for _, kv := range env {
		key, val, _ := strings.Cut(kv, "=")
		switch {
		case strings.EqualFold(key, "JAVA_HOME"):
			// replaced below
		case strings.EqualFold(key, "PATH"):
			out = append(out, key+"="+bin+string(os.PathListSeparator)+val)
			pathSeen = true
		default:
			out = append(out, kv)
		}
	}
	if !pathSeen {
		out = append(out, "PATH="+bin)
	}
	out = append(out, "JAVA_HOME="+home)
	return out
}

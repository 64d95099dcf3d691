package scans

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// ParseReport converts a Dependency-Check JSON report into Vulnerability
// records. Pure function of the file contents, single pass. Malformed or
// missing optional fields degrade to sentinel values for that field alone;
// only an unreadable file or broken top-level JSON is an error.
func ParseReport(reportPath string, scanID ScanID, createdAt time.Time) ([]*Vulnerability, error) {
	data, err := os.ReadFile(reportPath)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}

	var vulns []*Vulnerability
	for _, d := range asSlice(doc["dependencies"]) {
		dep, ok := d.(map[string]any)
		if !ok {
			continue
		}
		depName := asString(dep["fileName"])
		if depName == "" {
			depName = "unknown"
		}
		depFile := asString(dep["filePath"])
		depVersion := versionFromPackages(asSlice(dep["packages"]))

		for _, v := range asSlice(dep["vulnerabilities"]) {
			entry, ok := v.(map[string]any)
			if !ok {
				continue
			}

			cveID := asString(entry["name"])
			if cveID == "" {
				cveID = "UNKNOWN"
			}

			vuln := &Vulnerability{
				ScanID:            scanID,
				DependencyName:    depName,
				DependencyVersion: depVersion,
				DependencyFile:    depFile,
				CVEID:             cveID,
				Severity:          ParseSeverity(asString(entry["severity"])),
				CVSSv2:            nestedScore(entry["cvssv2"], "score"),
				CVSSv3:            nestedScore(entry["cvssv3"], "baseScore"),
				Description:       asString(entry["description"]),
				References:        marshalReferences(asSlice(entry["references"])),
				CWEIDs:            marshalCWEs(asSlice(entry["cwes"])),
				CreatedAt:         createdAt,
			}
			vulns = append(vulns, vuln)
		}
	}
	return vulns, nil
}

// Reference is one normalized (url, name) pair from a report entry.
type Reference struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// versionFromPackages derives the dependency version from the first package
// identifier that parses as a colon-delimited tuple (e.g. a purl-ish
// "pkg:maven/org.apache/log4j-core@x" style id split on ':' with >= 3
// parts), taking its last segment. No parseable id leaves it unset.
func versionFromPackages(pkgs []any) string {
	for _, p := range pkgs {
		m, ok := p.(map[string]any)
		if !ok {
			continue
		}
		id := asString(m["id"])
		if id == "" {
			continue
		}
		parts := strings.Split(id, ":")
		if len(parts) >= 3 {
			return parts[len(parts)-1]
		}
	}
	return ""
}

// nestedScore pulls a float score out of an optional nested object such as
// cvssv2.score or cvssv3.baseScore. Either block may be present without the
// other; anything non-numeric degrades to absent.
func nestedScore(block any, key string) *float64 {
	m, ok := block.(map[string]any)
	if !ok {
		return nil
	}
	f, ok := m[key].(float64)
	if !ok {
		return nil
	}
	return &f
}

func marshalReferences(raw []any) string {
	refs := make([]Reference, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		refs = append(refs, Reference{URL: asString(m["url"]), Name: asString(m["name"])})
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func marshalCWEs(raw []any) string {
	cwes := make([]string, 0, len(raw))
	for _, c := range raw {
		if s, ok := c.(string); ok {
			cwes = append(cwes, s)
		}
	}
	b, err := json.Marshal(cwes)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

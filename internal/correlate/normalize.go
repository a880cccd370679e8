// Package correlate matches threats to assets across product-name variants
// and version ranges, producing confidence-scored associations.
package correlate

import (
	"regexp"
	"strings"

	"github.com/package-url/packageurl-go"
)

var (
	trailingYearRe    = regexp.MustCompile(`\s+\d{4}$`)
	trailingVersionRe = regexp.MustCompile(`\s+v?\d+\.\d+.*$`)
	nonAlnumRe        = regexp.MustCompile(`[^a-z0-9 ]+`)
	whitespaceRe      = regexp.MustCompile(`\s+`)
)

// synonyms maps normalised vendor shorthand to the canonical product name.
var synonyms = map[string]string{
	"ms sql":          "microsoft sql server",
	"mssql":           "microsoft sql server",
	"sql server":      "microsoft sql server",
	"iis":             "internet information services",
	"postgres":        "postgresql",
	"rhel":            "red hat enterprise linux",
	"esxi":            "vmware esxi",
	"vcenter":         "vmware vcenter server",
	"k8s":             "kubernetes",
	"apache httpd":    "apache http server",
	"win server":      "microsoft windows server",
	"windows server":  "microsoft windows server",
	"exchange":        "microsoft exchange server",
	"exchange server": "microsoft exchange server",
	"sharepoint":      "microsoft sharepoint",
}

// normalizeName canonicalises a product name for comparison: lower-case,
// trailing year and version stripped, synonyms applied, punctuation
// removed, whitespace collapsed.
func normalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = trailingYearRe.ReplaceAllString(n, "")
	n = trailingVersionRe.ReplaceAllString(n, "")
	n = strings.TrimSpace(n)

	if canonical, ok := synonyms[n]; ok {
		n = canonical
	}

	n = nonAlnumRe.ReplaceAllString(n, " ")
	n = whitespaceRe.ReplaceAllString(n, " ")
	return strings.TrimSpace(n)
}

// splitAssetProduct resolves an asset product reference to (name, version).
// Inventory systems commonly export package URLs; those are unpacked into
// their component name and version.
func splitAssetProduct(name, version string) (string, string) {
	if strings.HasPrefix(name, "pkg:") {
		if purl, err := packageurl.FromString(name); err == nil {
			resolved := purl.Name
			if purl.Namespace != "" {
				resolved = purl.Namespace + " " + purl.Name
			}
			if version == "" {
				version = purl.Version
			}
			return resolved, version
		}
	}
	return name, version
}

// similarity is the longest-common-subsequence ratio of two strings,
// in [0, 1].
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	la, lb := len(a), len(b)
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for i := 1; i <= la; i++ {
		for j := 1; j <= lb; j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}

	lcs := prev[lb]
	longer := la
	if lb > la {
		longer = lb
	}
	return float64(lcs) / float64(longer)
}

// Package extract pulls CVE, product, TTP, and IOC tokens out of free text.
// The rule engine here is the mandatory fallback behind the optional ML
// collaborator; it must always be able to run.
package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Origin tags which path produced a result.
type Origin string

const (
	OriginML   Origin = "ml"
	OriginRule Origin = "rule"
)

// Product is one extracted product reference.
type Product struct {
	Name         string `json:"product_name"`
	Version      string `json:"product_version,omitempty"`
	Type         string `json:"product_type,omitempty"`
	OriginalText string `json:"original_text,omitempty"`
}

// IOCs holds the extracted indicator buckets.
type IOCs struct {
	IPs     []string `json:"ips"`
	Domains []string `json:"domains"`
	Hashes  []string `json:"hashes"`
}

// Result is the outcome of one extraction pass.
type Result struct {
	CVEs       []string  `json:"cves"`
	Products   []Product `json:"products"`
	TTPs       []string  `json:"ttps"`
	IOCs       IOCs      `json:"iocs"`
	Confidence float64   `json:"confidence"`
	Origin     Origin    `json:"origin"`
}

// ruleConfidence is the confidence assigned to keyword-driven rule hits.
const ruleConfidence = 0.8

// Engine is the deterministic rule-based extractor.
type Engine struct{}

// NewEngine creates a rule engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Extract runs every rule over the text. Extraction is idempotent: the same
// text always yields the same result.
func (e *Engine) Extract(text string) Result {
	return Result{
		CVEs:     ExtractCVEs(text),
		Products: ExtractProducts(text),
		TTPs:     ExtractTTPs(text),
		IOCs: IOCs{
			IPs:     extractIPs(text),
			Domains: extractDomains(text),
			Hashes:  extractHashes(text),
		},
		Confidence: ruleConfidence,
		Origin:     OriginRule,
	}
}

// =============================================================================
// CVE Extraction
// =============================================================================

var cveRe = regexp.MustCompile(`(?i)CVE[-\s]?(\d{4})[-\s]?(\d{4,7})`)

// ExtractCVEs returns the canonical, de-duplicated, ascending CVE list
// found in the text. Years outside [1999, 2099] are rejected.
func ExtractCVEs(text string) []string {
	seen := make(map[string]struct{})
	var cves []string

	for _, m := range cveRe.FindAllStringSubmatch(text, -1) {
		year, err := strconv.Atoi(m[1])
		if err != nil || year < 1999 || year > 2099 {
			continue
		}
		id := "CVE-" + m[1] + "-" + m[2]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		cves = append(cves, id)
	}

	sort.Strings(cves)
	return cves
}

// =============================================================================
// IOC Extraction
// =============================================================================

var (
	ipv4Re = regexp.MustCompile(`\b(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3})\b`)
	ipv6Re = regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`)
)

func extractIPs(text string) []string {
	seen := make(map[string]struct{})
	var ips []string

	add := func(ip string) {
		if _, ok := seen[ip]; !ok {
			seen[ip] = struct{}{}
			ips = append(ips, ip)
		}
	}

	for _, m := range ipv4Re.FindAllStringSubmatch(text, -1) {
		valid := true
		for _, octet := range m[1:] {
			n, err := strconv.Atoi(octet)
			if err != nil || n > 255 {
				valid = false
				break
			}
		}
		if !valid {
			continue
		}
		ip := m[0]
		// Reserved ranges carry no intelligence value.
		if ip == "0.0.0.0" || strings.HasPrefix(ip, "127.") {
			continue
		}
		add(ip)
	}

	for _, ip := range ipv6Re.FindAllString(text, -1) {
		add(ip)
	}

	return ips
}

var domainRe = regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}\b`)

// stopDomains are well-known placeholder hosts.
var stopDomains = map[string]struct{}{
	"example.com": {},
	"localhost":   {},
}

func extractDomains(text string) []string {
	seen := make(map[string]struct{})
	var domains []string

	for _, loc := range domainRe.FindAllStringIndex(text, -1) {
		d := text[loc[0]:loc[1]]

		// Email fragments are not domains.
		if loc[0] > 0 && text[loc[0]-1] == '@' {
			continue
		}

		lower := strings.ToLower(d)
		if _, ok := stopDomains[lower]; ok {
			continue
		}
		if strings.Contains(lower, "test") && strings.Contains(lower, "example") {
			continue
		}
		if len(lower) < 4 {
			continue
		}

		if _, ok := seen[lower]; !ok {
			seen[lower] = struct{}{}
			domains = append(domains, lower)
		}
	}

	return domains
}

var hashRe = regexp.MustCompile(`\b[0-9a-fA-F]{32,64}\b`)

func extractHashes(text string) []string {
	seen := make(map[string]struct{})
	var hashes []string

	for _, h := range hashRe.FindAllString(text, -1) {
		n := len(h)
		if n != 32 && n != 40 && n != 64 {
			continue
		}
		lower := strings.ToLower(h)
		if n == 32 && (lower == strings.Repeat("0", 32) || lower == strings.Repeat("f", 32)) {
			continue
		}
		if _, ok := seen[lower]; !ok {
			seen[lower] = struct{}{}
			hashes = append(hashes, lower)
		}
	}

	return hashes
}

package extract

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCVEs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"canonical", "Patch CVE-2024-12345 today", []string{"CVE-2024-12345"}},
		{"lowercase", "cve-2023-0001 observed", []string{"CVE-2023-0001"}},
		{"space separated", "CVE 2022 41040 chained with CVE 2022 41082", []string{"CVE-2022-41040", "CVE-2022-41082"}},
		{"mixed separators", "CVE-2021 44228 aka log4shell", []string{"CVE-2021-44228"}},
		{"year too old", "CVE-1998-1234 is ancient", nil},
		{"year too new", "CVE-2100-1234 is impossible", nil},
		{"boundary years", "CVE-1999-0001 and CVE-2099-9999", []string{"CVE-1999-0001", "CVE-2099-9999"}},
		{"short sequence rejected", "CVE-2024-123 is malformed", nil},
		{"seven digit sequence", "CVE-2024-1234567 is valid", []string{"CVE-2024-1234567"}},
		{"short sequences skipped around valid", "CVE-2024-2 then CVE-2023-9999", []string{"CVE-2023-9999"}},
		{"no match", "nothing to see", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCVEs(tt.text))
		})
	}
}

func TestExtractCVEsDedupeAndOrder(t *testing.T) {
	got := ExtractCVEs("cve-2024-5555, CVE-2023-1111, CVE 2024 5555, CVE-2024-0001")
	assert.Equal(t, []string{"CVE-2023-1111", "CVE-2024-0001", "CVE-2024-5555"}, got)
}

func TestExtractCVEsAcceptedForms(t *testing.T) {
	// Every year in range and every sequence width must round-trip to the
	// canonical form.
	for _, year := range []int{1999, 2000, 2024, 2099} {
		for _, seq := range []string{"1234", "99999", "123456", "9999999"} {
			text := fmt.Sprintf("see CVE-%d-%s for details", year, seq)
			want := fmt.Sprintf("CVE-%d-%s", year, seq)
			assert.Equal(t, []string{want}, ExtractCVEs(text), text)
		}
	}
}

func TestExtractIPs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"valid ipv4", "beacon to 203.0.113.7 observed", []string{"203.0.113.7"}},
		{"octet out of range", "value 999.1.1.1 is not an address", nil},
		{"loopback rejected", "bound to 127.0.0.1", nil},
		{"zero address rejected", "listens on 0.0.0.0", nil},
		{"full ipv6", "src 2001:0db8:0000:0000:0000:ff00:0042:8329", []string{"2001:0db8:0000:0000:0000:ff00:0042:8329"}},
		{"compressed ipv6 ignored", "src 2001:db8::1", nil},
		{"mixed", "from 198.51.100.2 to 203.0.113.7", []string{"198.51.100.2", "203.0.113.7"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractIPs(tt.text))
		})
	}
}

func TestExtractDomains(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"simple", "c2 at evil-domain.net", []string{"evil-domain.net"}},
		{"lowercased", "payload from MALWARE.Example.ORG", []string{"malware.example.org"}},
		{"email rejected", "contact admin@evil.com now", nil},
		{"stop domain", "see example.com for details", nil},
		{"test and example", "host test.example.org used in docs", nil},
		{"single char tld rejected", "file a.b is odd", nil},
		{"dedupe", "evil.com then EVIL.com", []string{"evil.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractDomains(tt.text))
		})
	}
}

func TestExtractHashes(t *testing.T) {
	md5 := "d41d8cd98f00b204e9800998ecf8427e"
	sha1 := "da39a3ee5e6b4b0d3255bfef95601890afd80709"
	sha256 := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"md5", "dropper " + md5, []string{md5}},
		{"sha1", "sample " + sha1, []string{sha1}},
		{"sha256", "payload " + sha256, []string{sha256}},
		{"uppercase normalized", "hash D41D8CD98F00B204E9800998ECF8427E", []string{md5}},
		{"odd length rejected", "value " + md5[:30], nil},
		{"all zeros rejected", "hash 00000000000000000000000000000000", nil},
		{"all f rejected", "hash ffffffffffffffffffffffffffffffff", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractHashes(tt.text))
		})
	}
}

func TestExtractProducts(t *testing.T) {
	t.Run("keyword with version", func(t *testing.T) {
		got := ExtractProducts("affects Apache Tomcat 9.0.65 deployments")
		require.Len(t, got, 1)
		assert.Equal(t, "Apache Tomcat", got[0].Name)
		assert.Equal(t, "9.0.65", got[0].Version)
		assert.Equal(t, "application", got[0].Type)
		assert.Contains(t, got[0].OriginalText, "Tomcat 9.0.65")
	})

	t.Run("calendar version", func(t *testing.T) {
		got := ExtractProducts("runs Windows Server 2019 in the DMZ")
		require.Len(t, got, 1)
		assert.Equal(t, "Microsoft Windows Server", got[0].Name)
		assert.Equal(t, "2019", got[0].Version)
		assert.Equal(t, "os", got[0].Type)
	})

	t.Run("v prefixed", func(t *testing.T) {
		got := ExtractProducts("nginx v1.25.3 in front of the app")
		require.Len(t, got, 1)
		assert.Equal(t, "nginx", got[0].Name)
		assert.Equal(t, "1.25.3", got[0].Version)
	})

	t.Run("loose punctuation version", func(t *testing.T) {
		got := ExtractProducts("OpenSSL (3.0.7) is affected")
		require.Len(t, got, 1)
		assert.Equal(t, "OpenSSL", got[0].Name)
		assert.Equal(t, "3.0.7", got[0].Version)
	})

	t.Run("versionless keyword", func(t *testing.T) {
		got := ExtractProducts("the SharePoint instance is exposed")
		require.Len(t, got, 1)
		assert.Equal(t, "Microsoft SharePoint", got[0].Name)
		assert.Empty(t, got[0].Version)
	})

	t.Run("longest spelling wins", func(t *testing.T) {
		got := ExtractProducts("Microsoft SQL Server 2019 is end of support")
		require.Len(t, got, 1)
		assert.Equal(t, "Microsoft SQL Server", got[0].Name)
		assert.Equal(t, "2019", got[0].Version)
	})

	t.Run("synonym collapses to one product", func(t *testing.T) {
		got := ExtractProducts("VMware ESXi hosts and ESXi 7.0.3 builds")
		names := make([]string, 0, len(got))
		for _, p := range got {
			names = append(names, p.Name)
		}
		assert.Equal(t, []string{"VMware ESXi"}, names)
	})
}

func TestExtractTTPs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"single", "delivered via phishing email", []string{"T1566"}},
		{"sorted", "ransomware deployed after phishing", []string{"T1486", "T1566"}},
		{"sub technique", "a spearphishing attachment dropped the loader", []string{"T1566", "T1566.001"}},
		{"case insensitive", "PowerShell used for execution", []string{"T1059.001"}},
		{"dedupe by id", "ransomware with data encrypted for impact", []string{"T1486"}},
		{"none", "routine maintenance notice", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTTPs(tt.text))
		})
	}
}

func TestEngineExtractIdempotent(t *testing.T) {
	text := "CVE-2024-1234 in Apache Tomcat 9.0.65, c2 at evil.net (203.0.113.7), " +
		"delivered by phishing, hash d41d8cd98f00b204e9800998ecf8427e"

	engine := NewEngine()
	first := engine.Extract(text)
	second := engine.Extract(text)

	assert.Equal(t, first, second)
	assert.Equal(t, OriginRule, first.Origin)
	assert.Equal(t, ruleConfidence, first.Confidence)
	assert.Equal(t, []string{"CVE-2024-1234"}, first.CVEs)
	assert.Equal(t, []string{"T1566"}, first.TTPs)
	assert.Equal(t, []string{"203.0.113.7"}, first.IOCs.IPs)
	assert.Equal(t, []string{"evil.net"}, first.IOCs.Domains)
}

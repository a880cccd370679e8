package extract

import (
	"regexp"
	"strings"
)

// productKeywords maps well-known vendor/product spellings to their
// canonical name and type. Matching is case-insensitive.
var productKeywords = []struct {
	keyword string
	name    string
	ptype   string
}{
	{"microsoft windows server", "Microsoft Windows Server", "os"},
	{"windows server", "Microsoft Windows Server", "os"},
	{"microsoft windows", "Microsoft Windows", "os"},
	{"windows 11", "Microsoft Windows 11", "os"},
	{"windows 10", "Microsoft Windows 10", "os"},
	{"microsoft exchange", "Microsoft Exchange Server", "application"},
	{"exchange server", "Microsoft Exchange Server", "application"},
	{"microsoft sql server", "Microsoft SQL Server", "application"},
	{"sql server", "Microsoft SQL Server", "application"},
	{"sharepoint", "Microsoft SharePoint", "application"},
	{"microsoft office", "Microsoft Office", "application"},
	{"internet information services", "Internet Information Services", "application"},
	{"iis", "Internet Information Services", "application"},
	{"vmware esxi", "VMware ESXi", "os"},
	{"esxi", "VMware ESXi", "os"},
	{"vmware vcenter", "VMware vCenter Server", "application"},
	{"vcenter", "VMware vCenter Server", "application"},
	{"vmware workstation", "VMware Workstation", "application"},
	{"red hat enterprise linux", "Red Hat Enterprise Linux", "os"},
	{"ubuntu", "Ubuntu Linux", "os"},
	{"debian", "Debian Linux", "os"},
	{"centos", "CentOS Linux", "os"},
	{"apache tomcat", "Apache Tomcat", "application"},
	{"apache struts", "Apache Struts", "application"},
	{"apache http server", "Apache HTTP Server", "application"},
	{"apache httpd", "Apache HTTP Server", "application"},
	{"nginx", "nginx", "application"},
	{"postgresql", "PostgreSQL", "application"},
	{"postgres", "PostgreSQL", "application"},
	{"mysql", "MySQL", "application"},
	{"mariadb", "MariaDB", "application"},
	{"oracle database", "Oracle Database", "application"},
	{"mongodb", "MongoDB", "application"},
	{"openssl", "OpenSSL", "application"},
	{"openssh", "OpenSSH", "application"},
	{"cisco ios", "Cisco IOS", "os"},
	{"fortios", "Fortinet FortiOS", "os"},
	{"fortinet fortigate", "Fortinet FortiGate", "hardware"},
	{"citrix adc", "Citrix ADC", "application"},
	{"atlassian confluence", "Atlassian Confluence", "application"},
	{"confluence", "Atlassian Confluence", "application"},
	{"atlassian jira", "Atlassian Jira", "application"},
	{"jenkins", "Jenkins", "application"},
	{"docker", "Docker", "application"},
	{"kubernetes", "Kubernetes", "application"},
	{"adobe acrobat", "Adobe Acrobat", "application"},
	{"google chrome", "Google Chrome", "application"},
	{"mozilla firefox", "Mozilla Firefox", "application"},
	{"log4j", "Apache Log4j", "application"},
}

// versionPatterns is the per-keyword version regex cascade: the first
// non-empty capture wins. %s is replaced with the quoted keyword.
var versionPatterns = []string{
	`(?i)%s\s+v?(\d+\.\d+(?:\.\d+){0,2})`, // 1.2, 1.2.3, 1.2.3.4
	`(?i)%s\s+(\d+\.\d+)`,                 // 1.2
	`(?i)%s\s+(\d+)\b`,                    // 15
	`(?i)%s\s+(\d{4})\b`,                  // calendar (2019)
	`(?i)%s[^\w]*(\d+\.\d+(?:\.\d+)?)`,    // loose
}

// ExtractProducts finds known products in the text along with a version
// when one trails the keyword. One product per canonical name; the first
// (longest) keyword spelling wins.
func ExtractProducts(text string) []Product {
	lower := strings.ToLower(text)

	seen := make(map[string]struct{})
	var products []Product

	for _, pk := range productKeywords {
		idx := strings.Index(lower, pk.keyword)
		if idx < 0 {
			continue
		}
		if _, ok := seen[pk.name]; ok {
			continue
		}
		seen[pk.name] = struct{}{}

		end := idx + len(pk.keyword) + 40
		if end > len(text) {
			end = len(text)
		}
		fragment := text[idx:end]

		products = append(products, Product{
			Name:         pk.name,
			Version:      matchVersion(pk.keyword, fragment),
			Type:         pk.ptype,
			OriginalText: strings.TrimSpace(fragment),
		})
	}

	return products
}

// matchVersion walks the regex cascade against the fragment starting at the
// keyword; the first non-empty capture wins.
func matchVersion(keyword, fragment string) string {
	quoted := regexp.QuoteMeta(keyword)
	for _, pattern := range versionPatterns {
		re, err := regexp.Compile(strings.Replace(pattern, "%s", quoted, 1))
		if err != nil {
			continue
		}
		if m := re.FindStringSubmatch(fragment); m != nil && m[1] != "" {
			return m[1]
		}
	}
	return ""
}

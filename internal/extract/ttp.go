package extract

import (
	"sort"
	"strings"
)

// ttpDictionary maps free-text tokens to ATT&CK technique identifiers.
// First matching token per identifier wins.
var ttpDictionary = []struct {
	token string
	id    string
}{
	{"spearphishing attachment", "T1566.001"},
	{"spearphishing link", "T1566.002"},
	{"phishing", "T1566"},
	{"spear phishing", "T1566"},
	{"drive-by compromise", "T1189"},
	{"exploit public-facing application", "T1190"},
	{"remote code execution", "T1203"},
	{"command and scripting interpreter", "T1059"},
	{"powershell", "T1059.001"},
	{"scheduled task", "T1053"},
	{"valid accounts", "T1078"},
	{"brute force", "T1110"},
	{"credential dumping", "T1003"},
	{"os credential dumping", "T1003"},
	{"privilege escalation", "T1068"},
	{"lateral movement", "T1021"},
	{"remote desktop protocol", "T1021.001"},
	{"pass the hash", "T1550.002"},
	{"data exfiltration", "T1041"},
	{"exfiltration over c2", "T1041"},
	{"command and control", "T1071"},
	{"web shell", "T1505.003"},
	{"supply chain compromise", "T1195"},
	{"ransomware", "T1486"},
	{"data encrypted for impact", "T1486"},
	{"denial of service", "T1499"},
	{"sql injection", "T1190"},
	{"defense evasion", "T1562"},
	{"persistence", "T1547"},
	{"process injection", "T1055"},
}

// ExtractTTPs returns the sorted ATT&CK identifiers whose tokens occur in
// the text.
func ExtractTTPs(text string) []string {
	lower := strings.ToLower(text)

	seen := make(map[string]struct{})
	for _, entry := range ttpDictionary {
		if _, ok := seen[entry.id]; ok {
			continue
		}
		if strings.Contains(lower, entry.token) {
			seen[entry.id] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

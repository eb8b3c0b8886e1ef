package executor

import "regexp"

// ProhibitedPatternsMessage is the fixed output emitted when the safety gate
// rejects a submission. Nothing is provisioned in that case.
const ProhibitedPatternsMessage = "Error: Code contains prohibited patterns\n"

// bannedPatterns is a per-language denylist of escape primitives: process
// spawning, filesystem access, raw eval/reflection. It is a best-effort
// lexical gate run before any resource is provisioned; the actual security
// boundary is the isolated execution environment.
var bannedPatterns = map[string][]*regexp.Regexp{
	"python": {
		regexp.MustCompile(`import\s+(os|subprocess|sys|shutil|platform)`),
		regexp.MustCompile(`from\s+(os|subprocess|sys)\s+import`),
		regexp.MustCompile(`eval\(|exec\(|open\(|system\(`),
	},
	"javascript": {
		regexp.MustCompile(`require\(['"]child_process['"]\)`),
		regexp.MustCompile(`require\(['"]fs['"]\)`),
		regexp.MustCompile(`eval\(|new Function\(|process\.(exit|kill)`),
	},
	"java": {
		regexp.MustCompile(`Runtime\.getRuntime\(\)`),
		regexp.MustCompile(`ProcessBuilder|UNIXProcess`),
		regexp.MustCompile(`exec\(`),
	},
}

// codeSafe reports whether the submission passes the lexical gate for its
// language. A language without a denylist passes; the supported-language
// check happens separately.
func codeSafe(code, language string) bool {
	for _, pattern := range bannedPatterns[language] {
		if pattern.MatchString(code) {
			return false
		}
	}
	return true
}

// Package executor runs participant-submitted code in isolation and streams
// the output back to the session room.
package executor

// LanguageConfig describes how one supported language is built and run.
// Image/MemoryLimit/RunCmd drive the local container backend;
// RuntimeVersion pins the delegated remote service to a specific runtime.
type LanguageConfig struct {
	Image          string
	FileExt        string
	MemoryLimit    int64
	RunCmd         string
	RuntimeVersion string
}

// languages is the fixed supported set. Anything absent here is rejected
// with ErrUnsupportedLanguage before a job is admitted.
var languages = map[string]LanguageConfig{
	"python": {
		Image:          "python:3.9",
		FileExt:        "py",
		MemoryLimit:    100 * 1024 * 1024,
		RunCmd:         "python -u /app/code.py",
		RuntimeVersion: "3.10.0",
	},
	"javascript": {
		Image:          "node:16",
		FileExt:        "js",
		MemoryLimit:    100 * 1024 * 1024,
		RunCmd:         "node /app/code.js",
		RuntimeVersion: "18.15.0",
	},
	"java": {
		Image:          "openjdk:17",
		FileExt:        "java",
		MemoryLimit:    512 * 1024 * 1024,
		RunCmd:         `sh -c "javac /app/code.java && java -cp /app code"`,
		RuntimeVersion: "15.0.2",
	},
}

// Supported reports whether the language is in the fixed supported set.
func Supported(language string) bool {
	_, ok := languages[language]
	return ok
}

package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// maxRemoteOutput caps the relayed output of a delegated execution.
const maxRemoteOutput = 2000

// ansiEscape matches terminal control sequences, which remote runtimes are
// prone to embedding in compiler output.
var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// RemoteBackend delegates execution to an external piston-style execute API
// pinned to a specific runtime version per language. The service returns
// compile and run results in a single response; output is relayed as one
// labelled, sanitized, size-capped chunk rather than streamed.
type RemoteBackend struct {
	baseURL    string
	httpClient *http.Client
}

// NewRemoteBackend creates a backend against the given execute API base URL.
func NewRemoteBackend(baseURL string) *RemoteBackend {
	return &RemoteBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (b *RemoteBackend) Name() string { return "remote" }

type remoteFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type remoteRequest struct {
	Language       string       `json:"language"`
	Version        string       `json:"version"`
	Files          []remoteFile `json:"files"`
	CompileTimeout int          `json:"compile_timeout"`
	RunTimeout     int          `json:"run_timeout"`
}

type remoteStage struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Code   int    `json:"code"`
}

type remoteResponse struct {
	Compile *remoteStage `json:"compile,omitempty"`
	Run     remoteStage  `json:"run"`
	Message string       `json:"message,omitempty"`
}

func (b *RemoteBackend) Run(ctx context.Context, job Job, emit func(chunk string)) error {
	cfg := languages[job.Language]
	logCtx := logrus.WithFields(logrus.Fields{"session_id": job.SessionID, "language": job.Language})

	payload := remoteRequest{
		Language: job.Language,
		Version:  cfg.RuntimeVersion,
		Files: []remoteFile{
			{Name: "code." + cfg.FileExt, Content: job.Code},
		},
		CompileTimeout: 10000,
		RunTimeout:     5000,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode execute request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build execute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call execution service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read execution response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		logCtx.WithField("status", resp.StatusCode).Warn("Execution service returned non-OK status")
		return fmt.Errorf("execution service returned status %d", resp.StatusCode)
	}

	var result remoteResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode execution response: %w", err)
	}
	if result.Message != "" {
		return fmt.Errorf("execution service: %s", result.Message)
	}

	emit(formatRemoteOutput(result))
	return nil
}

// formatRemoteOutput concatenates compile error, runtime error and stdout
// sections with clear labels, strips control sequences and truncates to the
// output ceiling.
func formatRemoteOutput(result remoteResponse) string {
	var out strings.Builder
	if result.Compile != nil && result.Compile.Stderr != "" {
		out.WriteString("Compilation error:\n")
		out.WriteString(result.Compile.Stderr)
		out.WriteString("\n")
	}
	if result.Run.Stderr != "" {
		out.WriteString("Runtime error:\n")
		out.WriteString(result.Run.Stderr)
		out.WriteString("\n")
	}
	if result.Run.Stdout != "" {
		out.WriteString(result.Run.Stdout)
	}

	cleaned := ansiEscape.ReplaceAllString(out.String(), "")
	if len(cleaned) > maxRemoteOutput {
		// Back up to a rune boundary so the cut never emits invalid UTF-8.
		cut := maxRemoteOutput
		for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
			cut--
		}
		cleaned = cleaned[:cut] + "\n... (output truncated)"
	}
	return cleaned
}

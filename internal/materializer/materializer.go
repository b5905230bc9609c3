// Package materializer implements size-thresholded inline-vs-spill handling
// of tool-result payloads (spec §4.3, C3), grounded on
// original_source/freeact/agent/store.py's ToolResultMaterializer.
package materializer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Spiller persists an oversized payload and returns its path. session.Store
// satisfies this.
type Spiller interface {
	SaveToolResult(payload []byte, ext string) (string, error)
}

// Binary is a tool-result content variant carrying raw bytes and a media
// type, distinct from an ordinary string result.
type Binary struct {
	Data      []byte
	MediaType string
}

// Materializer canonicalizes arbitrary tool-result content and decides
// whether to return it inline or spill it to disk behind a textual notice.
type Materializer struct {
	store         Spiller
	inlineMaxBytes int
	previewLines   int
	workingDir     string
	logger         *slog.Logger
}

// Config holds the thresholds a Materializer is constructed with.
type Config struct {
	InlineMaxBytes int
	PreviewLines   int
	WorkingDir     string
}

// New returns a Materializer backed by store for overflow persistence.
func New(store Spiller, cfg Config, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{store: store, inlineMaxBytes: cfg.InlineMaxBytes, previewLines: cfg.PreviewLines, workingDir: cfg.WorkingDir, logger: logger}
}

type canonical struct {
	payload      []byte
	extension    string
	previewLines []string
}

// Materialize returns content unchanged when its canonical byte size is at
// or below the configured threshold; otherwise it spills the canonical bytes
// via the backing store and returns a textual notice describing where the
// full content landed. If spilling itself fails, the original content is
// returned unchanged and the failure is logged rather than propagated — a
// full disk must not fail the turn (spec §4.3).
func (m *Materializer) Materialize(content any) any {
	c := m.canonicalize(content)
	if len(c.payload) <= m.inlineMaxBytes {
		return content
	}

	path, err := m.store.SaveToolResult(c.payload, c.extension)
	if err != nil {
		m.logger.Warn("tool result overflow spill failed, returning inline", "error", err)
		return content
	}

	lines := []string{
		fmt.Sprintf("Tool result exceeded configured inline threshold (%d bytes).", m.inlineMaxBytes),
		fmt.Sprintf("Actual size: %d bytes.", len(c.payload)),
	}
	if len(c.previewLines) > 0 {
		lines = append(lines, fmt.Sprintf("Preview (first and last %d lines):", m.previewLines))
		lines = append(lines, c.previewLines...)
	}
	lines = append(lines, fmt.Sprintf("Full content saved to: %s", relPath(m.workingDir, path)))
	return strings.Join(lines, "\n")
}

func relPath(workingDir, path string) string {
	rel, err := filepath.Rel(workingDir, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func (m *Materializer) canonicalize(content any) canonical {
	switch v := content.(type) {
	case string:
		return canonical{payload: []byte(v), extension: "txt", previewLines: m.previewOf(v)}
	case Binary:
		return canonical{payload: v.Data, extension: extensionForMediaType(v.MediaType)}
	default:
		return canonicalizeStructured(v)
	}
}

func canonicalizeStructured(v any) canonical {
	normalized := toSortedJSONable(v)
	rendered, err := marshalIndentSorted(normalized)
	if err != nil {
		rendered = []byte(fmt.Sprintf("%v", v))
	}
	return canonical{payload: rendered, extension: "json"}
}

// marshalIndentSorted marshals with two-space indentation. json.Marshal on
// maps already sorts keys lexically, matching the sort_keys=True behavior of
// the reference implementation.
func marshalIndentSorted(v any) ([]byte, error) {
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(buf.String(), "\n")), nil
}

// toSortedJSONable round-trips through JSON so that byte slices become
// base64 strings, matching the reference's bytes_mode="base64" behavior,
// without needing per-type reflection here.
func toSortedJSONable(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return v
	}
	return generic
}

// previewOf returns head(N)+tail(N) lines of text with an omission marker in
// between, where N is the configured preview line count. A PreviewLines of
// zero disables preview entirely (empty result, as for binary/structured
// content).
func (m *Materializer) previewOf(text string) []string {
	if m.previewLines <= 0 {
		return nil
	}

	lines := splitLines(text)
	if len(lines) == 0 {
		return []string{"<empty>"}
	}

	n := m.previewLines
	if len(lines) <= n*2 {
		return lines
	}

	omitted := len(lines) - n*2
	out := make([]string, 0, n*2+1)
	out = append(out, lines[:n]...)
	out = append(out, fmt.Sprintf("... (%d lines omitted) ...", omitted))
	out = append(out, lines[len(lines)-n:]...)
	return out
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

var mediaExtRe = regexp.MustCompile(`^[a-z0-9]+$`)

func extensionForMediaType(mediaType string) string {
	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 {
		return "bin"
	}
	sort.Strings(exts)
	ext := strings.ToLower(strings.TrimPrefix(exts[0], "."))
	if !mediaExtRe.MatchString(ext) {
		return "bin"
	}
	return ext
}

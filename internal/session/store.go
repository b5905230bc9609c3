// Package session implements the append-only JSONL persistence of model
// message history (spec §4.2, C2) grounded on
// original_source/freeact/agent/store.py's SessionStore.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/freeact-go/freeact/pkg/model"
)

// Envelope is one JSONL line: a versioned, timestamped model message.
// meta.agent_id is intentionally absent — the owning agent is implicit in
// the file name.
type Envelope struct {
	V    int          `json:"v"`
	Msg  model.Message `json:"message"`
	Meta Meta          `json:"meta"`
}

type Meta struct {
	TS string `json:"ts"`
}

const envelopeVersion = 1

var extensionRe = regexp.MustCompile(`^[a-z0-9]+$`)

// Store persists and restores per-agent message history under
// <root>/<sessionID>/<agentID>.jsonl, and spills oversized tool results
// under <root>/<sessionID>/tool-results/.
type Store struct {
	root      string
	sessionID string

	// FlushAfterAppend forces an fsync after every Append call.
	FlushAfterAppend bool
}

// New returns a Store rooted at root for the given sessionID. Directories
// are created lazily on first write, not here.
func New(root, sessionID string) *Store {
	return &Store{root: root, sessionID: sessionID}
}

func (s *Store) sessionDir() string {
	return filepath.Join(s.root, s.sessionID)
}

// Append writes one line per message to <agentID>.jsonl, creating the
// session directory on demand. Each envelope gets a fresh UTC timestamp.
func (s *Store) Append(agentID string, messages []model.Message) error {
	if len(messages) == 0 {
		return nil
	}

	dir := s.sessionDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("session: create session dir: %w", err)
	}

	path := filepath.Join(dir, agentID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("session: open %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, msg := range messages {
		env := Envelope{
			V:   envelopeVersion,
			Msg: msg,
			Meta: Meta{
				TS: time.Now().UTC().Format("2006-01-02T15:04:05.999999999Z"),
			},
		}
		line, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("session: marshal envelope: %w", err)
		}
		if _, err := w.Write(line); err != nil {
			return fmt.Errorf("session: write line: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("session: write newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("session: flush: %w", err)
	}
	if s.FlushAfterAppend {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("session: fsync: %w", err)
		}
	}
	return nil
}

// Load reads all persisted messages for agentID in append order. A missing
// file returns an empty slice, not an error. If the final line is truncated
// (an interrupted write), it is silently dropped; a malformed line earlier
// in the file is a hard error, since that indicates corruption rather than
// a partial write.
func (s *Store) Load(agentID string) ([]model.Message, error) {
	path := filepath.Join(s.sessionDir(), agentID+".jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: read %s: %w", path, err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}

	messages := make([]model.Message, 0, len(lines))
	for i, line := range lines {
		var env Envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			if i == len(lines)-1 {
				break
			}
			return nil, fmt.Errorf("session: malformed JSONL line %d in %s: %w", i+1, path, err)
		}
		if err := validateEnvelope(line, i+1, path); err != nil {
			return nil, err
		}
		messages = append(messages, env.Msg)
	}
	return messages, nil
}

// validateEnvelope re-parses the line generically to enforce the envelope
// shape rules that a typed Unmarshal alone cannot: required keys, the
// forbidden meta.agent_id field, and the supported version.
func validateEnvelope(line string, lineNo int, path string) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return fmt.Errorf("session: malformed JSONL line %d in %s: %w", lineNo, path, err)
	}

	for _, key := range []string{"v", "message", "meta"} {
		if _, ok := raw[key]; !ok {
			return fmt.Errorf("session: malformed JSONL line %d in %s: missing %q", lineNo, path, key)
		}
	}

	var version int
	if err := json.Unmarshal(raw["v"], &version); err != nil || version != envelopeVersion {
		return fmt.Errorf("session: unsupported envelope version on line %d in %s", lineNo, path)
	}

	var meta map[string]json.RawMessage
	if err := json.Unmarshal(raw["meta"], &meta); err != nil {
		return fmt.Errorf("session: malformed JSONL line %d in %s: %w", lineNo, path, err)
	}
	if _, ok := meta["agent_id"]; ok {
		return fmt.Errorf("session: invalid envelope on line %d in %s: meta.agent_id is forbidden", lineNo, path)
	}
	if _, ok := meta["ts"]; !ok {
		return fmt.Errorf("session: malformed JSONL line %d in %s: missing meta.ts", lineNo, path)
	}
	return nil
}

// SaveToolResult persists payload under <root>/<sessionID>/tool-results/ with
// a random 8-hex filename, retrying on collision, and returns the path
// written.
func (s *Store) SaveToolResult(payload []byte, ext string) (string, error) {
	dir := filepath.Join(s.sessionDir(), "tool-results")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("session: create tool-results dir: %w", err)
	}

	safeExt := sanitizeExtension(ext)
	for {
		name := uuid.NewString()[:8] + "." + safeExt
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, payload, 0o644); err != nil {
				return "", fmt.Errorf("session: write tool result: %w", err)
			}
			return path, nil
		}
	}
}

func sanitizeExtension(ext string) string {
	raw := strings.ToLower(strings.TrimPrefix(ext, "."))
	if raw == "" || !extensionRe.MatchString(raw) {
		return "bin"
	}
	return raw
}

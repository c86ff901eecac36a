// Package watcher implements the transcript watcher: a single long-running
// worker that discovers each registered session's JSONL transcript file and
// tails it for new turns.
package watcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/samotage/claude-headspace-sub003/pkg/pathcodec"
	"github.com/samotage/claude-headspace-sub003/pkg/session"
)

// ParsedTurn is one user/assistant message extracted from a transcript line.
type ParsedTurn struct {
	SessionUUID uuid.UUID
	Actor       string // "user" or "agent"
	Text        string
	Timestamp   time.Time
	Raw         json.RawMessage
	MessageType string
}

// TurnHandler consumes every parsed turn as it is discovered. Implementations
// must not block for long — they run inline on the watcher's single
// goroutine.
type TurnHandler func(ParsedTurn)

// jsonlLine is the subset of a transcript line this watcher understands.
// Lines whose "type" is not "user" or "assistant" (progress,
// file-history-snapshot, …) are skipped without error.
type jsonlLine struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Message   json.RawMessage `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messageBody struct {
	Content json.RawMessage `json:"content"`
}

// Watcher tails every registered session's transcript file on a fixed
// polling interval. The interval itself is runtime-adjustable: the hook
// receiver switches it between a slow hook-active rate and a faster
// fallback rate depending on whether hooks have fired recently.
type Watcher struct {
	registry     *session.Registry
	projectsRoot string
	onTurn       TurnHandler

	intervalNanos int64 // atomic, time.Duration stored as int64
	debounce      time.Duration

	mu          sync.Mutex
	lastSize    map[uuid.UUID]int64
	lastChecked map[uuid.UUID]time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Watcher. hookActiveInterval and fallbackInterval are the two
// polling rates the hook receiver toggles between; the watcher starts in
// fallback mode until a hook arrives.
func New(registry *session.Registry, projectsRoot string, fallbackInterval, debounce time.Duration, onTurn TurnHandler) *Watcher {
	w := &Watcher{
		registry:     registry,
		projectsRoot: projectsRoot,
		onTurn:       onTurn,
		debounce:     debounce,
		lastSize:     make(map[uuid.UUID]int64),
		lastChecked:  make(map[uuid.UUID]time.Time),
		stopCh:       make(chan struct{}),
	}
	atomic.StoreInt64(&w.intervalNanos, int64(fallbackInterval))
	return w
}

// SetInterval switches the polling interval, e.g. between hook-active (60s)
// and fallback (2s) rates.
func (w *Watcher) SetInterval(d time.Duration) {
	atomic.StoreInt64(&w.intervalNanos, int64(d))
}

func (w *Watcher) interval() time.Duration {
	return time.Duration(atomic.LoadInt64(&w.intervalNanos))
}

// Start begins the polling loop in a goroutine.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the loop to exit and waits for it to finish. Safe to call
// more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("component", "watcher")
	log.Info("transcript watcher started")

	for {
		timer := time.NewTimer(w.interval())
		select {
		case <-w.stopCh:
			timer.Stop()
			log.Info("transcript watcher stopping")
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			w.pollOnce()
		}
	}
}

func (w *Watcher) pollOnce() {
	w.discoverPaths()
	w.readAppends()
}

// discoverPaths implements step 1: for every registered session without a
// known JSONL path, finds the newest file by mtime in the session's project
// folder and records it with a byte offset of 0.
func (w *Watcher) discoverPaths() {
	for _, s := range w.registry.WithoutJSONLPath() {
		folder := filepath.Join(w.projectsRoot, pathcodec.Encode(s.ProjectPath))
		path, err := newestJSONL(folder)
		if err != nil {
			continue // not yet created, or transient I/O error — try again next poll
		}
		if err := w.registry.SetJSONLPath(s.SessionUUID, path); err != nil {
			continue
		}
		slog.Debug("discovered transcript", "session_uuid", s.SessionUUID, "path", path)
	}
}

func newestJSONL(folder string) (string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return "", err
	}

	var best string
	var bestMtime time.Time
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMtime) {
			best = e.Name()
			bestMtime = info.ModTime()
		}
	}
	if best == "" {
		return "", fs.ErrNotExist
	}
	return filepath.Join(folder, best), nil
}

// readAppends implements step 2+3: for every session with a known path,
// reads bytes appended since the last offset, parses each line, emits a
// ParsedTurn per user/assistant message, and bumps last_activity_at.
//
// Debouncing (multiple appends within the debounce window coalesced into one
// read pass) falls out naturally from polling: a session touched again
// before debounce has elapsed since its last check is skipped this poll and
// picked up on the next one, so rapid consecutive writes are read together.
func (w *Watcher) readAppends() {
	now := time.Now()
	for _, s := range w.registry.All() {
		if s.JSONLPath == nil {
			continue
		}

		w.mu.Lock()
		last, checked := w.lastChecked[s.SessionUUID]
		w.mu.Unlock()
		if checked && now.Sub(last) < w.debounce {
			continue
		}

		w.mu.Lock()
		w.lastChecked[s.SessionUUID] = now
		w.mu.Unlock()

		w.readSessionAppend(s)
	}
}

func (w *Watcher) readSessionAppend(s session.Session) {
	f, err := os.Open(*s.JSONLPath)
	if err != nil {
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return
	}
	if info.Size() <= s.ByteOffset {
		return
	}

	if _, err := f.Seek(s.ByteOffset, 0); err != nil {
		return
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var bytesRead int64
	emitted := false
	for scanner.Scan() {
		line := scanner.Bytes()
		bytesRead += int64(len(line)) + 1 // account for the newline scanner strips

		turn, ok := parseLine(s.SessionUUID, line)
		if !ok {
			continue
		}
		emitted = true
		w.onTurn(turn)
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("transcript scan error", "session_uuid", s.SessionUUID, "error", err)
	}

	newOffset := s.ByteOffset + bytesRead
	if err := w.registry.AdvanceOffset(s.SessionUUID, newOffset); err != nil {
		return
	}
	if emitted {
		_ = w.registry.Touch(s.SessionUUID)
	}
}

// parseLine parses one transcript line. Non-message lines and malformed
// lines are reported as (zero, false) rather than aborting the read.
func parseLine(sessionUUID uuid.UUID, line []byte) (ParsedTurn, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return ParsedTurn{}, false
	}

	var parsed jsonlLine
	if err := json.Unmarshal(line, &parsed); err != nil {
		slog.Warn("malformed transcript line, skipping", "error", err)
		return ParsedTurn{}, false
	}

	var actor string
	switch parsed.Type {
	case "user":
		actor = "user"
	case "assistant":
		actor = "agent"
	default:
		return ParsedTurn{}, false
	}

	var body messageBody
	if err := json.Unmarshal(parsed.Message, &body); err != nil {
		slog.Warn("malformed transcript message, skipping", "error", err)
		return ParsedTurn{}, false
	}

	text, ok := extractText(body.Content)
	if !ok {
		return ParsedTurn{}, false
	}

	ts, err := time.Parse(time.RFC3339, parsed.Timestamp)
	if err != nil {
		ts = time.Now()
	}

	return ParsedTurn{
		SessionUUID: sessionUUID,
		Actor:       actor,
		Text:        text,
		Timestamp:   ts,
		Raw:         json.RawMessage(line),
		MessageType: parsed.Type,
	}, true
}

// extractText handles both a bare string content field and the multi-block
// array form, concatenating every text-typed block in order.
func extractText(content json.RawMessage) (string, bool) {
	if len(content) == 0 {
		return "", false
	}

	var plain string
	if err := json.Unmarshal(content, &plain); err == nil {
		return plain, true
	}

	var blocks []contentBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return "", false
	}

	var buf bytes.Buffer
	for _, b := range blocks {
		if b.Type != "text" {
			continue
		}
		buf.WriteString(b.Text)
	}
	if buf.Len() == 0 {
		return "", false
	}
	return buf.String(), true
}

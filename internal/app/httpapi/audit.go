package httpapi

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/R3E-Network/raffle_service/internal/middleware"
)

// Entry is one audited API request.
type Entry struct {
	Time       time.Time `json:"time"`
	Actor      string    `json:"actor"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// AuditSink persists audit entries beyond the in-memory window.
type AuditSink interface {
	Write(entry Entry) error
}

// AuditLog keeps a bounded in-memory trail of API requests and forwards
// each entry to an optional sink.
type AuditLog struct {
	mu      sync.Mutex
	entries []Entry
	max     int
	sink    AuditSink
}

// NewAuditLog creates an audit log retaining at most max entries in memory.
func NewAuditLog(max int, sink AuditSink) *AuditLog {
	if max <= 0 {
		max = 200
	}
	return &AuditLog{max: max, sink: sink}
}

func (l *AuditLog) add(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	if l.sink != nil {
		// Best-effort persistence; ignore errors to avoid impacting request flow.
		_ = l.sink.Write(entry)
	}
}

func (l *AuditLog) list() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *AuditLog) listLimit(limit int) []Entry {
	if limit <= 0 || limit > l.max {
		limit = l.max
	}
	all := l.list()
	if len(all) <= limit {
		return all
	}
	return all[len(all)-limit:]
}

// middlewareFunc records every request routed through the handler. Health
// probes and metric scrapes are left out of the trail.
func (l *AuditLog) middlewareFunc(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		actor := middleware.GetUserID(r.Context())
		if actor == "" {
			actor = middleware.GetServiceID(r.Context())
		}
		l.add(Entry{
			Time:       time.Now().UTC(),
			Actor:      actor,
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working through the audit wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// FileAuditSink appends audit entries as JSONL.
type FileAuditSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileAuditSink opens or creates the JSONL file at path. An empty path
// yields a nil sink.
func NewFileAuditSink(path string) (*FileAuditSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &FileAuditSink{file: f}, nil
}

func (s *FileAuditSink) Write(entry Entry) error {
	if s == nil || s.file == nil {
		return nil
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}

// PostgresAuditSink writes audit entries into the audit_log table.
type PostgresAuditSink struct {
	db *sql.DB
}

// NewPostgresAuditSink creates a sink over an open database handle.
func NewPostgresAuditSink(db *sql.DB) *PostgresAuditSink {
	if db == nil {
		return nil
	}
	return &PostgresAuditSink{db: db}
}

func (s *PostgresAuditSink) Write(entry Entry) error {
	if s == nil || s.db == nil {
		return nil
	}
	detail, err := json.Marshal(map[string]string{
		"remote_addr": entry.RemoteAddr,
		"user_agent":  entry.UserAgent,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (ts, actor, method, path, status, detail) VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Time, entry.Actor, entry.Method, entry.Path, entry.Status, detail)
	return err
}

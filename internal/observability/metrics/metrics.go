package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

type adapterLabel struct {
	backend string
	op      string
	outcome string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests, sign
// outcomes, reconciliation passes, adapter calls, and backend ingest health.
// It coordinates concurrent writers with a RWMutex and renders Prometheus
// text exposition on demand.
type Recorder struct {
	mu                sync.RWMutex
	requestCount      map[requestLabel]uint64
	requestDuration   map[requestLabel]time.Duration
	signOutcomes      map[string]uint64
	reconcileAttempts map[string]uint64
	reconcileFailures map[string]uint64
	adapterCalls      map[adapterLabel]uint64
	ingestHealthValue map[string]float64
	ingestHealthState map[string]string
	keyRotations      uint64
	activeKID         string
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can record immediately without further setup.
func New() *Recorder {
	return &Recorder{
		requestCount:      make(map[requestLabel]uint64),
		requestDuration:   make(map[requestLabel]time.Duration),
		signOutcomes:      make(map[string]uint64),
		reconcileAttempts: make(map[string]uint64),
		reconcileFailures: make(map[string]uint64),
		adapterCalls:      make(map[adapterLabel]uint64),
		ingestHealthValue: make(map[string]float64),
		ingestHealthState: make(map[string]string),
	}
}

// Default returns the shared Recorder used by packages that do not require a
// dedicated instrumentation pipeline.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by HTTP
// method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// RecordSignOutcome counts a sign attempt by its result: "ok", one of the
// policy denial reasons, or "session_limit".
func (r *Recorder) RecordSignOutcome(outcome string) {
	normalized := normalizeName(outcome)
	r.mu.Lock()
	r.signOutcomes[normalized]++
	r.mu.Unlock()
}

// RecordReconcile counts one Apply pass for the stream; failed passes are
// additionally counted as failures.
func (r *Recorder) RecordReconcile(streamID string, success bool) {
	id := normalizeName(streamID)
	r.mu.Lock()
	r.reconcileAttempts[id]++
	if !success {
		r.reconcileFailures[id]++
	}
	r.mu.Unlock()
}

// RecordAdapterCall counts one backend operation by backend, operation, and
// outcome.
func (r *Recorder) RecordAdapterCall(backend, op string, success bool) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	label := adapterLabel{
		backend: normalizeName(backend),
		op:      normalizeName(op),
		outcome: outcome,
	}
	r.mu.Lock()
	r.adapterCalls[label]++
	r.mu.Unlock()
}

// RecordKeyRotation counts a signing key rotation and tracks the active kid
// for exposition.
func (r *Recorder) RecordKeyRotation(kid string) {
	r.mu.Lock()
	r.keyRotations++
	r.activeKID = kid
	r.mu.Unlock()
}

// SetActiveKID records the active signing key without counting a rotation,
// used at startup.
func (r *Recorder) SetActiveKID(kid string) {
	r.mu.Lock()
	r.activeKID = kid
	r.mu.Unlock()
}

// SetIngestHealth maps a backend status string to a numeric health value and
// stores both representations for export (1=ok, 0=disabled/unknown, -1=error).
func (r *Recorder) SetIngestHealth(streamID, status string) {
	id := normalizeName(streamID)
	normalizedStatus := strings.ToLower(strings.TrimSpace(status))
	value := 0.0
	switch normalizedStatus {
	case "ok", "live", "healthy":
		value = 1
	case "disabled", "unknown", "":
		value = 0
	default:
		value = -1
	}
	r.mu.Lock()
	r.ingestHealthValue[id] = value
	r.ingestHealthState[id] = normalizedStatus
	r.mu.Unlock()
}

// ReconcileCounts returns copies of the attempt and failure counters for
// reporting and tests.
func (r *Recorder) ReconcileCounts() (attempts, failures map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attempts = make(map[string]uint64, len(r.reconcileAttempts))
	for k, v := range r.reconcileAttempts {
		attempts[k] = v
	}
	failures = make(map[string]uint64, len(r.reconcileFailures))
	for k, v := range r.reconcileFailures {
		failures[k] = v
	}
	return attempts, failures
}

// SignOutcomeCounts returns a copy of the sign outcome counters.
func (r *Recorder) SignOutcomeCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.signOutcomes))
	for k, v := range r.signOutcomes {
		out[k] = v
	}
	return out
}

// Reset clears all counters and gauges. Intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.signOutcomes = make(map[string]uint64)
	r.reconcileAttempts = make(map[string]uint64)
	r.reconcileFailures = make(map[string]uint64)
	r.adapterCalls = make(map[adapterLabel]uint64)
	r.ingestHealthValue = make(map[string]float64)
	r.ingestHealthState = make(map[string]string)
	r.keyRotations = 0
	r.activeKID = ""
}

// Handler exposes the Recorder as an http.Handler writing Prometheus text
// exposition data.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format with sorted label sets
// so scrapes and tests see stable output.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	signOutcomes := sortedKeys(r.signOutcomes)
	reconcileStreams := sortedKeys(r.reconcileAttempts)
	adapterLabels := r.sortedAdapterLabels()
	healthStreams := sortedKeysFloat(r.ingestHealthValue)

	fmt.Fprintln(w, "# HELP streamgate_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE streamgate_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "streamgate_http_requests_total{method=%q,path=%q,status=%q} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP streamgate_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE streamgate_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "streamgate_http_request_duration_seconds_sum{method=%q,path=%q,status=%q} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP streamgate_sign_requests_total Playback sign attempts by outcome")
	fmt.Fprintln(w, "# TYPE streamgate_sign_requests_total counter")
	for _, outcome := range signOutcomes {
		fmt.Fprintf(w, "streamgate_sign_requests_total{outcome=%q} %d\n", outcome, r.signOutcomes[outcome])
	}

	fmt.Fprintln(w, "# HELP streamgate_reconcile_attempts_total Reconciliation passes attempted by stream")
	fmt.Fprintln(w, "# TYPE streamgate_reconcile_attempts_total counter")
	for _, id := range reconcileStreams {
		fmt.Fprintf(w, "streamgate_reconcile_attempts_total{stream=%q} %d\n", id, r.reconcileAttempts[id])
	}

	fmt.Fprintln(w, "# HELP streamgate_reconcile_failures_total Reconciliation passes that surfaced an error by stream")
	fmt.Fprintln(w, "# TYPE streamgate_reconcile_failures_total counter")
	for _, id := range reconcileStreams {
		fmt.Fprintf(w, "streamgate_reconcile_failures_total{stream=%q} %d\n", id, r.reconcileFailures[id])
	}

	fmt.Fprintln(w, "# HELP streamgate_adapter_calls_total Backend adapter calls by backend, operation, and outcome")
	fmt.Fprintln(w, "# TYPE streamgate_adapter_calls_total counter")
	for _, label := range adapterLabels {
		fmt.Fprintf(w, "streamgate_adapter_calls_total{backend=%q,op=%q,outcome=%q} %d\n", label.backend, label.op, label.outcome, r.adapterCalls[label])
	}

	fmt.Fprintln(w, "# HELP streamgate_ingest_health Ingest health reported per stream (1=ok,0=unknown,-1=error)")
	fmt.Fprintln(w, "# TYPE streamgate_ingest_health gauge")
	for _, id := range healthStreams {
		fmt.Fprintf(w, "streamgate_ingest_health{stream=%q,status=%q} %f\n", id, r.ingestHealthState[id], r.ingestHealthValue[id])
	}

	fmt.Fprintln(w, "# HELP streamgate_key_rotations_total Signing key rotations performed")
	fmt.Fprintln(w, "# TYPE streamgate_key_rotations_total counter")
	fmt.Fprintf(w, "streamgate_key_rotations_total %d\n", r.keyRotations)

	if r.activeKID != "" {
		fmt.Fprintln(w, "# HELP streamgate_active_signing_key Info metric carrying the active signing key id")
		fmt.Fprintln(w, "# TYPE streamgate_active_signing_key gauge")
		fmt.Fprintf(w, "streamgate_active_signing_key{kid=%q} 1\n", r.activeKID)
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedAdapterLabels() []adapterLabel {
	labels := make([]adapterLabel, 0, len(r.adapterCalls))
	for label := range r.adapterCalls {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].backend != labels[j].backend {
			return labels[i].backend < labels[j].backend
		}
		if labels[i].op != labels[j].op {
			return labels[i].op < labels[j].op
		}
		return labels[i].outcome < labels[j].outcome
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedKeysFloat(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// normalizePath collapses path segments that look like identifiers so the
// label cardinality stays bounded.
func normalizePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "/"
	}
	segments := strings.Split(trimmed, "/")
	for i, segment := range segments {
		if i <= 1 || segment == "" {
			continue
		}
		if looksLikeIdentifier(segment) {
			segments[i] = ":id"
		}
	}
	normalized := strings.Join(segments, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	hasDigit := false
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			hasDigit = true
			break
		}
	}
	return hasDigit && strings.ContainsAny(segment, "-_")
}

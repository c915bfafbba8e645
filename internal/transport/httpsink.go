package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
	"github.com/jeeves-cluster-organization/acqgateway/internal/obslog"
)

const (
	defaultHTTPBatchSize     = 50
	defaultHTTPFlushInterval = 5 * time.Second
)

// HTTPPushSink batches CanonicalRecords and POSTs them as one request per
// batch (spec §4.6's "one publish attempt per request, not per record"),
// triggered by the batch filling or a flush timer. Authentication is none,
// basic (Credentials["username"]/["password"]), or bearer
// (Credentials["bearerToken"]).
type HTTPPushSink struct {
	name   string
	spec   model.SinkSpec
	client *http.Client
	store  BufferStore
	log    obslog.Logger

	mu      sync.Mutex
	pending []model.CanonicalRecord
	timer   *time.Timer
}

// NewHTTPPushSink returns an HTTPPushSink and starts its flush timer. store
// receives batch members orphaned by a failed flush that weren't reported
// back through a Publish call directly (see flush's storeAll parameter).
func NewHTTPPushSink(spec model.SinkSpec, store BufferStore, log obslog.Logger) *HTTPPushSink {
	if log == nil {
		log = obslog.Noop()
	}
	s := &HTTPPushSink{
		name:   spec.Name,
		spec:   spec,
		client: &http.Client{Timeout: 10 * time.Second},
		store:  store,
		log:    log,
	}
	s.timer = time.AfterFunc(s.flushInterval(), s.flushOnTimer)
	return s
}

func (s *HTTPPushSink) Name() string { return s.name }

func (s *HTTPPushSink) batchSize() int {
	if s.spec.BatchSize > 0 {
		return s.spec.BatchSize
	}
	return defaultHTTPBatchSize
}

func (s *HTTPPushSink) flushInterval() time.Duration {
	if s.spec.FlushInterval > 0 {
		return s.spec.FlushInterval
	}
	return defaultHTTPFlushInterval
}

// Publish appends record to the pending batch and returns ok immediately
// unless this call fills the batch, in which case it synchronously flushes
// and returns that flush's result for record specifically (record is always
// the last element of the flushed batch; earlier members are stored to the
// recovery buffer directly by flush on a retriable outcome, since only
// record's own outcome reaches the caller).
func (s *HTTPPushSink) Publish(ctx context.Context, record model.CanonicalRecord) Result {
	s.mu.Lock()
	s.pending = append(s.pending, record)
	var batch []model.CanonicalRecord
	if len(s.pending) >= s.batchSize() {
		batch = s.pending
		s.pending = nil
	}
	s.mu.Unlock()

	if batch == nil {
		return OK()
	}
	return s.flush(ctx, batch, false)
}

func (s *HTTPPushSink) flushOnTimer() {
	s.mu.Lock()
	s.timer.Reset(s.flushInterval())
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	result := s.flush(context.Background(), batch, true)
	if result.Status != StatusOK {
		s.log.Warn("transport: timer-triggered http batch flush failed", "sink", s.name, "result", result.String())
	}
}

// flush POSTs batch in one request. On a retriable outcome it stores every
// batch member in s.store, except the last when storeAll is false — that
// member is the one the caller is about to see the Result for, and the
// Fanout it came through will store it itself.
func (s *HTTPPushSink) flush(ctx context.Context, batch []model.CanonicalRecord, storeAll bool) Result {
	if len(batch) == 0 {
		return OK()
	}

	format := s.spec.Format
	if format == "" {
		format = model.FormatVerbose
	}

	body, err := encodeBatch(batch, format)
	if err != nil {
		return Fatal("encoding batch: " + err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.spec.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Fatal("building request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	s.applyAuth(req)

	resp, err := s.client.Do(req)
	if err != nil {
		s.requeue(ctx, batch, storeAll)
		return Retriable(err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return OK()
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Fatal(fmt.Sprintf("http %d", resp.StatusCode))
	default:
		s.requeue(ctx, batch, storeAll)
		return Retriable(fmt.Sprintf("http %d", resp.StatusCode))
	}
}

func (s *HTTPPushSink) requeue(ctx context.Context, batch []model.CanonicalRecord, storeAll bool) {
	if s.store == nil {
		return
	}
	toStore := batch
	if !storeAll && len(batch) > 0 {
		toStore = batch[:len(batch)-1]
	}
	for _, r := range toStore {
		s.store.Store(ctx, r, model.RoleRecovery, s.name)
	}
}

func (s *HTTPPushSink) applyAuth(req *http.Request) {
	switch {
	case s.spec.Credentials["bearerToken"] != "":
		req.Header.Set("Authorization", "Bearer "+s.spec.Credentials["bearerToken"])
	case s.spec.Credentials["username"] != "":
		req.SetBasicAuth(s.spec.Credentials["username"], s.spec.Credentials["password"])
	}
}

func (s *HTTPPushSink) Close() error {
	s.timer.Stop()
	return nil
}

func encodeBatch(batch []model.CanonicalRecord, format model.RecordFormat) ([]byte, error) {
	encoded := make([]json.RawMessage, 0, len(batch))
	for _, r := range batch {
		data, err := Encode(r, format)
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, data)
	}
	return json.Marshal(encoded)
}

var _ Sink = (*HTTPPushSink)(nil)

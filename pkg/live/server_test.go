package live

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ssnmr-sequencer/pkg/executor"
	"ssnmr-sequencer/pkg/experiment"
	"ssnmr-sequencer/pkg/hardware"
	"ssnmr-sequencer/pkg/log"
	"ssnmr-sequencer/pkg/metrics"
	"ssnmr-sequencer/pkg/results"
	"ssnmr-sequencer/pkg/settings"
)

type message struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	Result json.RawMessage   `json:"result"`
	Error  *jsonRPCError     `json:"error"`
	ID     any               `json:"id"`
}

func newTestServer(t *testing.T, m *metrics.Metrics) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Config{Logger: log.Discard(), Metrics: m})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Stop()
		ts.Close()
	})
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + ts.URL[4:] + "/websocket"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// next reads messages until one matches the method (or any response when
// method is empty).
func next(t *testing.T, conn *websocket.Conn, method string) message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Method == method {
			return msg
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testSnapshot(iteration int) executor.Snapshot {
	return executor.Snapshot{
		JobID:     "job-1",
		Iteration: iteration,
		Averages:  4,
		Outputs: map[string]executor.Output{
			"I": {Name: "I", Shape: []int{2}, Values: []float64{0.5, 0.25}, Blocks: iteration},
		},
	}
}

func TestConnectAnnouncesServer(t *testing.T) {
	m := metrics.New()
	s, ts := newTestServer(t, m)
	conn := dial(t, ts)

	msg := next(t, conn, NotifyConnected)
	if len(msg.Params) != 1 {
		t.Fatalf("expected one param, got %d", len(msg.Params))
	}
	waitFor(t, func() bool { return s.ClientCount() == 1 })

	conn.Close()
	waitFor(t, func() bool { return s.ClientCount() == 0 })
}

func TestPublishBroadcastsSnapshot(t *testing.T) {
	s, ts := newTestServer(t, nil)
	a := dial(t, ts)
	b := dial(t, ts)
	next(t, a, NotifyConnected)
	next(t, b, NotifyConnected)
	waitFor(t, func() bool { return s.ClientCount() == 2 })

	s.Publish(testSnapshot(2))

	for _, conn := range []*websocket.Conn{a, b} {
		msg := next(t, conn, NotifySnapshot)
		var snap executor.Snapshot
		if err := json.Unmarshal(msg.Params[0], &snap); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if snap.Iteration != 2 || snap.Outputs["I"].Values[1] != 0.25 {
			t.Errorf("unexpected snapshot %+v", snap)
		}
	}

	// Late joiners get the latest snapshot right away.
	c := dial(t, ts)
	msg := next(t, c, NotifySnapshot)
	var snap executor.Snapshot
	json.Unmarshal(msg.Params[0], &snap)
	if snap.Iteration != 2 {
		t.Errorf("expected replayed iteration 2, got %d", snap.Iteration)
	}
}

func TestWebSocketJSONRPC(t *testing.T) {
	s, ts := newTestServer(t, nil)
	conn := dial(t, ts)
	next(t, conn, NotifyConnected)

	conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "method": "live.latest", "id": 1})
	msg := next(t, conn, "")
	if msg.Error == nil {
		t.Fatal("expected error before any results")
	}

	s.Publish(testSnapshot(1))
	next(t, conn, NotifySnapshot)

	conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "method": "live.latest", "id": 2})
	msg = next(t, conn, "")
	if msg.Error != nil {
		t.Fatalf("unexpected error: %s", msg.Error.Message)
	}
	var snap executor.Snapshot
	if err := json.Unmarshal(msg.Result, &snap); err != nil || snap.Iteration != 1 {
		t.Errorf("unexpected latest %s", msg.Result)
	}

	conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "method": "printer.info", "id": 3})
	msg = next(t, conn, "")
	if msg.Error == nil || msg.Error.Code != -32000 {
		t.Errorf("expected method not found, got %+v", msg)
	}

	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	msg = next(t, conn, "")
	if msg.Error == nil || msg.Error.Code != -32700 {
		t.Errorf("expected parse error, got %+v", msg)
	}
}

func TestHTTPJSONRPC(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	saver, err := results.NewDataSaver(dir, results.WithSaverLogger(log.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := saver.SaveExperiment("run_1", 1, 2, 3, 4); err != nil {
		t.Fatal(err)
	}
	s := New(Config{Logger: log.Discard(), Saver: saver})
	mux := s.Handler()

	body := bytes.NewBufferString(`{"jsonrpc":"2.0","method":"live.experiments","id":7}`)
	req := httptest.NewRequest(http.MethodPost, "/jsonrpc", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var resp struct {
		Result struct {
			Root        string   `json:"root"`
			Experiments []string `json:"experiments"`
		} `json:"result"`
		ID float64 `json:"id"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Result.Experiments) != 1 || resp.Result.Experiments[0] != "run_1" {
		t.Errorf("unexpected experiments %v", resp.Result.Experiments)
	}
	if resp.ID != 7 {
		t.Errorf("expected id 7, got %v", resp.ID)
	}

	req = httptest.NewRequest(http.MethodGet, "/jsonrpc", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/live/latest", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 before results, got %d", rec.Code)
	}

	s.Publish(testSnapshot(3))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/server/info", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var info struct {
		Result map[string]any `json:"result"`
	}
	json.NewDecoder(rec.Body).Decode(&info)
	if info.Result["iteration"] != float64(3) {
		t.Errorf("expected iteration 3, got %v", info.Result["iteration"])
	}
}

func TestExperimentsWithoutSaver(t *testing.T) {
	s := New(Config{Logger: log.Discard()})
	if _, err := s.dispatchMethod("live.experiments", nil); err == nil {
		t.Error("expected error without data folder")
	}
}

func TestFollowJob(t *testing.T) {
	st := settings.Default()
	st.NAvg = 3
	hw, err := hardware.FromSettings(st)
	if err != nil {
		t.Fatal(err)
	}
	e, err := experiment.New(st, hw, experiment.WithoutInitialDelay())
	if err != nil {
		t.Fatal(err)
	}
	if err := e.AddPulse(st.PiHalfKey, st.ResKey); err != nil {
		t.Fatal(err)
	}
	p, err := e.Program()
	if err != nil {
		t.Fatal(err)
	}

	m := metrics.New()
	s, ts := newTestServer(t, m)
	conn := dial(t, ts)
	next(t, conn, NotifyConnected)
	waitFor(t, func() bool { return s.ClientCount() == 1 })

	sim := executor.NewSimulator(executor.WithLogger(log.Discard()))
	job, err := sim.Execute(context.Background(), hw, p)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		s.Follow(job)
		close(done)
	}()

	started := next(t, conn, NotifyJobStarted)
	var start map[string]any
	json.Unmarshal(started.Params[0], &start)
	if start["job_id"] != job.ID() {
		t.Errorf("expected job %s, got %v", job.ID(), start["job_id"])
	}

	finished := next(t, conn, NotifyJobFinished)
	var fin map[string]any
	json.Unmarshal(finished.Params[0], &fin)
	if fin["status"] != "completed" || fin["iteration"] != float64(3) {
		t.Errorf("unexpected finish %v", fin)
	}
	<-done

	latest, ok := s.Latest()
	if !ok || latest.Iteration != 3 {
		t.Errorf("expected latest iteration 3, got %+v", latest)
	}
}

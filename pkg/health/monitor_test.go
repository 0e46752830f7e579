package health

import (
	"sync"
	"testing"
	"time"

	"github.com/SandrickPro/packsched/pkg/cluster"
	"github.com/SandrickPro/packsched/pkg/models"
)

type recordingSink struct {
	mu    sync.Mutex
	calls []struct {
		nodeID  string
		healthy bool
	}
	cluster *cluster.State
}

func (r *recordingSink) MarkNodeHealth(nodeID string, healthy bool) error {
	r.mu.Lock()
	r.calls = append(r.calls, struct {
		nodeID  string
		healthy bool
	}{nodeID, healthy})
	r.mu.Unlock()
	// Mirror what the scheduler does so repeated checks see the new state.
	_, err := r.cluster.MarkHealth(nodeID, healthy)
	return err
}

func addNode(t *testing.T, cs *cluster.State, id string, heartbeat time.Time) {
	t.Helper()
	_, err := cs.AddNode(&models.Node{
		ID:            id,
		Name:          id,
		Total:         models.ResourceVector{CPUCores: 4, MemoryMB: 8192},
		Healthy:       true,
		Schedulable:   true,
		LastHeartbeat: heartbeat,
	})
	if err != nil {
		t.Fatalf("add node: %v", err)
	}
}

func TestCheckMarksSilentNodeUnhealthy(t *testing.T) {
	cs := cluster.NewState()
	addNode(t, cs, "silent", time.Now().Add(-5*time.Minute))
	addNode(t, cs, "chatty", time.Now())

	sink := &recordingSink{cluster: cs}
	m := NewMonitor(cs, sink, MonitorConfig{
		CheckInterval:    time.Second,
		HeartbeatTimeout: time.Minute,
	})

	m.Check()

	if len(sink.calls) != 1 {
		t.Fatalf("sink calls = %d, expected 1", len(sink.calls))
	}
	if sink.calls[0].nodeID != "silent" || sink.calls[0].healthy {
		t.Errorf("unexpected call: %+v", sink.calls[0])
	}

	// A second check reports nothing new; the transition already happened.
	m.Check()
	if len(sink.calls) != 1 {
		t.Errorf("repeated check re-reported: %d calls", len(sink.calls))
	}
}

func TestCheckRecoversNodeAfterHeartbeat(t *testing.T) {
	cs := cluster.NewState()
	addNode(t, cs, "flappy", time.Now().Add(-5*time.Minute))

	sink := &recordingSink{cluster: cs}
	m := NewMonitor(cs, sink, MonitorConfig{
		CheckInterval:    time.Second,
		HeartbeatTimeout: time.Minute,
	})

	m.Check()
	if len(sink.calls) != 1 || sink.calls[0].healthy {
		t.Fatalf("expected one unhealthy report, got %+v", sink.calls)
	}

	// The node reports in again.
	if err := cs.Heartbeat("flappy"); err != nil {
		t.Fatal(err)
	}
	m.Check()

	if len(sink.calls) != 2 {
		t.Fatalf("sink calls = %d, expected 2", len(sink.calls))
	}
	if sink.calls[1].nodeID != "flappy" || !sink.calls[1].healthy {
		t.Errorf("unexpected recovery call: %+v", sink.calls[1])
	}
}

func TestCheckHealthyNodeUntouched(t *testing.T) {
	cs := cluster.NewState()
	addNode(t, cs, "fine", time.Now())

	sink := &recordingSink{cluster: cs}
	m := NewMonitor(cs, sink, DefaultMonitorConfig())

	m.Check()
	if len(sink.calls) != 0 {
		t.Errorf("healthy node reported: %+v", sink.calls)
	}
}

func TestMonitorStartStop(t *testing.T) {
	cs := cluster.NewState()
	addNode(t, cs, "silent", time.Now().Add(-time.Hour))

	sink := &recordingSink{cluster: cs}
	m := NewMonitor(cs, sink, MonitorConfig{
		CheckInterval:    5 * time.Millisecond,
		HeartbeatTimeout: time.Minute,
	})

	m.Start()
	deadline := time.After(2 * time.Second)
	for {
		sink.mu.Lock()
		n := len(sink.calls)
		sink.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("monitor never reported the silent node")
		case <-time.After(5 * time.Millisecond):
		}
	}
	m.Stop()
	m.Stop() // idempotent
}

package reshuffle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dd0wney/rowdb/internal/eventbus"
	"github.com/stretchr/testify/require"
)

type fakeRows struct {
	tables []TableRef
	owned  map[string][]string
	docs   map[string][]byte
}

func (f *fakeRows) Tables() []TableRef { return f.tables }

func (f *fakeRows) ReplicaOwnedRows(db, table, node string) []string {
	return f.owned[db+"."+table+"."+node]
}

func (f *fakeRows) GetRowDoc(db, table, rowID string) ([]byte, bool) {
	doc, ok := f.docs[db+"."+table+"."+rowID]
	return doc, ok
}

type fakePlacement struct {
	mu         sync.Mutex
	online     map[string]bool
	replacement string
}

func (f *fakePlacement) IsOnline(nodeID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[nodeID]
}

func (f *fakePlacement) GetReplacementExcluding(exclude, avoid string) (string, bool) {
	if f.replacement == "" {
		return "", false
	}
	return f.replacement, true
}

type fakeShipper struct {
	mu      sync.Mutex
	shipped []string
}

func (f *fakeShipper) ShipRow(db, table, rowID string, doc []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shipped = append(f.shipped, rowID)
	return nil
}

func (f *fakeShipper) BroadcastPlacement(db, table, rowID, primary, secondary string) error {
	return nil
}

type fakeLocal struct {
	mu        sync.Mutex
	primary   map[string]string
	secondary map[string]string
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{primary: map[string]string{}, secondary: map[string]string{}}
}

func (f *fakeLocal) UpdatePrimary(db, table, rowID, newPrimary string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.primary[rowID] = newPrimary
}

func (f *fakeLocal) UpdateSecondary(db, table, rowID, newSecondary string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secondary[rowID] = newSecondary
}

func (f *fakeLocal) CurrentPlacement(db, table, rowID string) (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.primary[rowID]
	if p == "" {
		p = "node-a"
	}
	return p, f.secondary[rowID]
}

func fastOptions() Options {
	return Options{GraceWindow: time.Millisecond, MaxRetries: 1, RetryDelay: time.Millisecond}
}

func TestHandleNodeLostReshufflesEveryOwnedRowConcurrently(t *testing.T) {
	rows := &fakeRows{
		tables: []TableRef{{DB: "shop", Table: "items"}},
		owned: map[string][]string{
			"shop.items.node-a": {"row-1", "row-2", "row-3"},
		},
		docs: map[string][]byte{
			"shop.items.row-1": []byte("a"),
			"shop.items.row-2": []byte("b"),
			"shop.items.row-3": []byte("c"),
		},
	}
	placement := &fakePlacement{online: map[string]bool{}, replacement: "node-c"}
	shipper := &fakeShipper{}
	local := newFakeLocal()
	local.primary["row-1"] = "node-a"
	local.primary["row-2"] = "node-a"
	local.primary["row-3"] = "node-a"

	r := New(rows, placement, shipper, local, eventbus.New(), nil, nil, fastOptions())

	r.handleNodeLost(context.Background(), "node-a")

	shipper.mu.Lock()
	defer shipper.mu.Unlock()
	require.ElementsMatch(t, []string{"row-1", "row-2", "row-3"}, shipper.shipped)
}

func TestReshuffleRowAbortsIfLostNodeReappearsWithinGrace(t *testing.T) {
	rows := &fakeRows{}
	placement := &fakePlacement{online: map[string]bool{"node-a": true}}
	shipper := &fakeShipper{}
	local := newFakeLocal()

	r := New(rows, placement, shipper, local, eventbus.New(), nil, nil, fastOptions())
	r.reshuffleRow(context.Background(), "shop", "items", "row-1", "node-a")

	require.Empty(t, shipper.shipped)
}

func TestReshuffleRowLeavesUnderRepairedWhenNoReplacementAvailable(t *testing.T) {
	rows := &fakeRows{docs: map[string][]byte{"shop.items.row-1": []byte("a")}}
	placement := &fakePlacement{online: map[string]bool{}}
	shipper := &fakeShipper{}
	local := newFakeLocal()

	r := New(rows, placement, shipper, local, eventbus.New(), nil, nil, fastOptions())
	r.reshuffleRow(context.Background(), "shop", "items", "row-1", "node-a")

	require.Empty(t, shipper.shipped)
}

func TestRunReshufflesOnNodeLostEvent(t *testing.T) {
	rows := &fakeRows{
		tables: []TableRef{{DB: "shop", Table: "items"}},
		owned:  map[string][]string{"shop.items.node-a": {"row-1"}},
		docs:   map[string][]byte{"shop.items.row-1": []byte("a")},
	}
	placement := &fakePlacement{online: map[string]bool{}, replacement: "node-c"}
	shipper := &fakeShipper{}
	local := newFakeLocal()
	local.primary["row-1"] = "node-a"

	bus := eventbus.New()
	r := New(rows, placement, shipper, local, bus, nil, nil, fastOptions())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	bus.Publish(eventbus.TopicNodeLost, eventbus.NodeEvent{NodeID: "node-a"})

	require.Eventually(t, func() bool {
		shipper.mu.Lock()
		defer shipper.mu.Unlock()
		return len(shipper.shipped) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

package replication

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApplier struct {
	inserts    []string
	placements []string
	wiped      bool
}

func (f *fakeApplier) ApplyReplicatedInsert(db, table, rowID string, doc json.RawMessage) (uint64, error) {
	f.inserts = append(f.inserts, rowID)
	return 1, nil
}

func (f *fakeApplier) SetPlacement(db, table, rowID, primary, secondary string) error {
	f.placements = append(f.placements, rowID)
	return nil
}

func (f *fakeApplier) WipeAll() error {
	f.wiped = true
	return nil
}

func envelopeFor(t *testing.T, typ MessageType, lsn uint64, payload any) Envelope {
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return Envelope{Type: typ, LSN: lsn, Payload: raw}
}

func TestHandlerAppliesInsertOnce(t *testing.T) {
	applier := &fakeApplier{}
	h := NewHandler(applier, nil)

	msg := ReplicateInsertObject{DB: "d", Table: "t", RowID: "r1", JSON: json.RawMessage(`{"a":1}`)}
	env := envelopeFor(t, TypeReplicateInsertObject, 5, msg)

	require.NoError(t, h.Apply(env))
	require.NoError(t, h.Apply(env)) // duplicate delivery

	assert.Equal(t, []string{"r1"}, applier.inserts)
}

func TestHandlerDiscardsStaleLSN(t *testing.T) {
	applier := &fakeApplier{}
	h := NewHandler(applier, nil)

	msg := ReplicateInsertObject{DB: "d", Table: "t", RowID: "r1", JSON: json.RawMessage(`{}`)}
	require.NoError(t, h.Apply(envelopeFor(t, TypeReplicateInsertObject, 5, msg)))
	require.NoError(t, h.Apply(envelopeFor(t, TypeReplicateInsertObject, 3, msg)))

	assert.Len(t, applier.inserts, 1)
}

func TestHandlerAppliesPlacementAndWipe(t *testing.T) {
	applier := &fakeApplier{}
	h := NewHandler(applier, nil)

	placement := TableReplicaObjectInsertOrReplace{DB: "d", Table: "t", RowID: "r1", Primary: "n1", Secondary: "n2"}
	require.NoError(t, h.Apply(envelopeFor(t, TypeTableReplicaObjectUpsert, 1, placement)))
	assert.Equal(t, []string{"r1"}, applier.placements)

	require.NoError(t, h.Apply(envelopeFor(t, TypeDeleteEverything, 1, DeleteEverything{})))
	assert.True(t, applier.wiped)
}

func TestHandlerQueryLogCallback(t *testing.T) {
	applier := &fakeApplier{}
	h := NewHandler(applier, nil)

	var received QueryLog
	h.OnQueryLog(func(q QueryLog) { received = q })

	log := QueryLog{DB: "d", Table: "t", Predicate: "x=1", RowsRead: 10, RuntimeMS: 2.5}
	require.NoError(t, h.Apply(envelopeFor(t, TypeQueryLog, 1, log)))

	assert.Equal(t, "x=1", received.Predicate)
}

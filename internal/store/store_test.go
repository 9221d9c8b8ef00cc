package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/cyclebot/pkg/logger"
)

// runKVSuite exercises the KV contract against any tier
func runKVSuite(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	_, err := kv.Get(ctx, NamespaceInvestments, "MISSING")
	assert.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)

	require.NoError(t, kv.Set(ctx, NamespaceInvestments, "BBBUSDT", []byte(`{"basis":"2"}`)))
	require.NoError(t, kv.Set(ctx, NamespaceInvestments, "AAAUSDT", []byte(`{"basis":"1"}`)))
	require.NoError(t, kv.Set(ctx, NamespaceTombstones, "CCCUSDT", []byte(`{"sold":true}`)))

	got, err := kv.Get(ctx, NamespaceInvestments, "AAAUSDT")
	require.NoError(t, err)
	assert.JSONEq(t, `{"basis":"1"}`, string(got))

	keys, err := kv.Keys(ctx, NamespaceInvestments)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAAUSDT", "BBBUSDT"}, keys)

	// overwrite
	require.NoError(t, kv.Set(ctx, NamespaceInvestments, "AAAUSDT", []byte(`{"basis":"3"}`)))
	got, err = kv.Get(ctx, NamespaceInvestments, "AAAUSDT")
	require.NoError(t, err)
	assert.JSONEq(t, `{"basis":"3"}`, string(got))

	require.NoError(t, kv.Delete(ctx, NamespaceInvestments, "AAAUSDT"))
	_, err = kv.Get(ctx, NamespaceInvestments, "AAAUSDT")
	assert.True(t, errors.Is(err, ErrNotFound))

	// deleting a missing key is not an error
	require.NoError(t, kv.Delete(ctx, NamespaceInvestments, "AAAUSDT"))

	// namespaces are isolated
	keys, err = kv.Keys(ctx, NamespaceTombstones)
	require.NoError(t, err)
	assert.Equal(t, []string{"CCCUSDT"}, keys)
}

func TestMemoryKV(t *testing.T) {
	runKVSuite(t, NewMemoryKV())
}

func TestMemoryKV_CopiesValues(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()

	buf := []byte(`{"a":1}`)
	require.NoError(t, kv.Set(ctx, "ns", "k", buf))
	buf[2] = 'x'

	got, err := kv.Get(ctx, "ns", "k")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))

	kv.Reset()
	_, err = kv.Get(ctx, "ns", "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerKV_InMemory(t *testing.T) {
	kv, err := OpenBadgerInMemory()
	require.NoError(t, err)
	defer kv.Close()

	runKVSuite(t, kv)
}

func TestBadgerKV_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	kv, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, SetJSON(ctx, kv, NamespaceCycle, "state", map[string]int{"current_target_pct": 7}))
	require.NoError(t, kv.Close())

	kv, err = OpenBadger(dir)
	require.NoError(t, err)
	defer kv.Close()

	var state map[string]int
	require.NoError(t, GetJSON(ctx, kv, NamespaceCycle, "state", &state))
	assert.Equal(t, 7, state["current_target_pct"])
}

func TestOpenBadger_EmptyPath(t *testing.T) {
	_, err := OpenBadger(" ")
	assert.Error(t, err)
}

func TestGetJSON_DecodeError(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, kv.Set(ctx, "ns", "bad", []byte(`not json`)))

	var out map[string]interface{}
	err := GetJSON(ctx, kv, "ns", "bad", &out)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestMirroredKV(t *testing.T) {
	runKVSuite(t, NewMirroredKV(NewMemoryKV(), NewMemoryKV(), logger.NewNop()))
}

func TestMirroredKV_StateSurvivesPrimaryLoss(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	backup, err := OpenBadger(dir)
	require.NoError(t, err)
	kv := NewMirroredKV(NewMemoryKV(), backup, logger.NewNop())
	require.NoError(t, SetJSON(ctx, kv, NamespaceSchedule, "state", map[string]bool{"enabled": true}))
	require.NoError(t, backup.Close())

	// 재시작: 메모리 primary 는 비어 있음
	backup, err = OpenBadger(dir)
	require.NoError(t, err)
	defer backup.Close()
	primary := NewMemoryKV()
	kv = NewMirroredKV(primary, backup, logger.NewNop())

	var state map[string]bool
	require.NoError(t, GetJSON(ctx, kv, NamespaceSchedule, "state", &state))
	assert.True(t, state["enabled"])

	_, err = primary.Get(ctx, NamespaceSchedule, "state")
	assert.NoError(t, err, "primary must be repopulated from the backup")
}

// rejectingKV fails every write
type rejectingKV struct{ *MemoryKV }

func (rejectingKV) Set(context.Context, string, string, []byte) error {
	return errors.New("unavailable")
}

func TestMirroredKV_SetFailures(t *testing.T) {
	ctx := context.Background()

	backup := NewMemoryKV()
	kv := NewMirroredKV(rejectingKV{NewMemoryKV()}, backup, logger.NewNop())
	require.NoError(t, kv.Set(ctx, NamespaceCycle, "state", []byte(`{}`)), "one healthy tier is enough")
	_, err := backup.Get(ctx, NamespaceCycle, "state")
	assert.NoError(t, err)

	kv = NewMirroredKV(rejectingKV{NewMemoryKV()}, rejectingKV{NewMemoryKV()}, logger.NewNop())
	assert.Error(t, kv.Set(ctx, NamespaceCycle, "state", []byte(`{}`)))
}

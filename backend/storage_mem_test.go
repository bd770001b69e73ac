package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memPut(t *testing.T, st storage, key, value string) {
	t.Helper()
	tx, err := st.BeginTx(true)
	require.NoError(t, err)
	bkt, err := tx.CreateBucket("m", "f")
	require.NoError(t, err)
	require.NoError(t, bkt.Put([]byte(key), []byte(value)))
	require.NoError(t, tx.Commit())
}

func memGet(t *testing.T, tx storageTx, key string) string {
	t.Helper()
	bkt := tx.Bucket("m", "f")
	if bkt == nil {
		return ""
	}
	return string(bkt.Get([]byte(key)))
}

func TestMemStorageReadTxKeepsSnapshot(t *testing.T) {
	st := newMemStorage()
	defer st.Close()
	memPut(t, st, "a", "1")

	rtx, err := st.BeginTx(false)
	require.NoError(t, err)
	defer rtx.Rollback()

	memPut(t, st, "a", "2")
	memPut(t, st, "b", "3")

	assert.Equal(t, "1", memGet(t, rtx, "a"))
	assert.Equal(t, "", memGet(t, rtx, "b"))

	rtx2, err := st.BeginTx(false)
	require.NoError(t, err)
	defer rtx2.Rollback()
	assert.Equal(t, "2", memGet(t, rtx2, "a"))
	assert.Equal(t, "3", memGet(t, rtx2, "b"))
}

func TestMemStorageRollbackDiscards(t *testing.T) {
	st := newMemStorage()
	defer st.Close()
	memPut(t, st, "a", "1")

	tx, err := st.BeginTx(true)
	require.NoError(t, err)
	bkt := tx.Bucket("m", "f")
	require.NotNil(t, bkt)
	require.NoError(t, bkt.Put([]byte("a"), []byte("x")))
	require.NoError(t, bkt.Delete([]byte("missing")))
	_, err = tx.CreateBucket("other", "")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback())

	rtx, err := st.BeginTx(false)
	require.NoError(t, err)
	defer rtx.Rollback()
	assert.Equal(t, "1", memGet(t, rtx, "a"))
	assert.Nil(t, rtx.Bucket("other", ""))
	assert.NotNil(t, rtx.Bucket("m", ""))
}

func TestMemStorageReadTxIsReadOnly(t *testing.T) {
	st := newMemStorage()
	defer st.Close()
	memPut(t, st, "a", "1")

	tx, err := st.BeginTx(false)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = tx.CreateBucket("m", "g")
	assert.ErrorIs(t, err, errTxNotWritable)
	assert.ErrorIs(t, tx.Bucket("m", "f").Put([]byte("a"), nil), errTxNotWritable)
	assert.ErrorIs(t, tx.Commit(), errTxNotWritable)
}

func TestMemCursor(t *testing.T) {
	st := newMemStorage()
	defer st.Close()
	for _, k := range []string{"d", "b", "a", "c"} {
		memPut(t, st, k, k+k)
	}

	tx, err := st.BeginTx(false)
	require.NoError(t, err)
	defer tx.Rollback()
	c := tx.Bucket("m", "f").Cursor()

	var keys []string
	for k, v := c.First(); k != nil; k, v = c.Next() {
		assert.Equal(t, string(k)+string(k), string(v))
		keys = append(keys, string(k))
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, keys)

	k, _ := c.Seek([]byte("bb"))
	assert.Equal(t, "c", string(k))
	k, _ = c.Next()
	assert.Equal(t, "d", string(k))
	k, _ = c.Next()
	assert.Nil(t, k)
	k, _ = c.Seek([]byte("z"))
	assert.Nil(t, k)
}

func TestMemStorageClosed(t *testing.T) {
	st := newMemStorage()
	tx, err := st.BeginTx(true)
	require.NoError(t, err)
	require.NoError(t, st.Close())
	assert.ErrorIs(t, tx.Commit(), errStorageClosed)

	_, err = st.BeginTx(true)
	assert.ErrorIs(t, err, errStorageClosed)
	_, err = st.BeginTx(false)
	assert.ErrorIs(t, err, errStorageClosed)
}

package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackageStorePutGet(t *testing.T) {
	store, err := OpenPackageStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	data, err := WritePackage(buildProviderPackage(t))
	require.NoError(t, err)

	hash, err := store.Put(data)
	require.NoError(t, err)
	require.Len(t, hash, 64)

	got, err := store.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Content addressing: storing the same bytes is idempotent.
	again, err := store.Put(data)
	require.NoError(t, err)
	assert.Equal(t, hash, again)
	hashes, err := store.Hashes()
	require.NoError(t, err)
	assert.Len(t, hashes, 1)

	missing, err := store.Get("deadbeef")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPackageStoreLatest(t *testing.T) {
	store, err := OpenPackageStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	data, err := WritePackage(buildProviderPackage(t))
	require.NoError(t, err)
	_, err = store.Put(data)
	require.NoError(t, err)

	got, err := store.Latest("provider")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	none, err := store.Latest("absent")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestPackageStoreRejectsMalformed(t *testing.T) {
	store, err := OpenPackageStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Put([]byte("garbage"))
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
}

func TestLoadPackageFromStore(t *testing.T) {
	store, err := OpenPackageStore(":memory:")
	require.NoError(t, err)

	data, err := WritePackage(buildProviderPackage(t))
	require.NoError(t, err)
	_, err = store.Put(data)
	require.NoError(t, err)

	machine, err := NewVM(WithPackageStore(store))
	require.NoError(t, err)
	defer machine.Close()
	t.Cleanup(func() { store.Close() })

	name, _ := machine.NameFromSource("provider")
	pkg, err := machine.LoadPackage(name)
	require.NoError(t, err)

	fName, _ := machine.NameFromSource("f")
	f := pkg.FindFunction(fName)
	require.NotNil(t, f)
	got, err := f.CallForI64()
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
}

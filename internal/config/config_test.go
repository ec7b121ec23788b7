package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestConfig_ValidateRejectsBadNetQueueAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NetQueue.Address = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_ValidateRejectsMaxBelowRequiredSegments(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferPool.RequiredSegments = 10
	cfg.BufferPool.MaxSegments = 5
	assert.Error(t, cfg.Validate())
}

func TestConfig_ValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.Level = "verbose"
	assert.Error(t, cfg.Validate())
}

func TestConfig_DeepCopyIsIndependent(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.DeepCopy()

	clone.SlotTable.NumStaticSlots = 99
	assert.NotEqual(t, cfg.SlotTable.NumStaticSlots, clone.SlotTable.NumStaticSlots)
}

func TestManager_UpdateNotifiesCallbackWithOldAndNew(t *testing.T) {
	cfg := DefaultConfig()
	mgr := NewManager(cfg, "")

	var gotOld, gotNew *Config
	mgr.OnChange(func(oldCfg, newCfg *Config) {
		gotOld, gotNew = oldCfg, newCfg
	})

	updated := cfg.DeepCopy()
	updated.SlotTable.NumStaticSlots = 8
	require.NoError(t, mgr.Update(updated))

	require.NotNil(t, gotOld)
	require.NotNil(t, gotNew)
	assert.Equal(t, 4, gotOld.SlotTable.NumStaticSlots)
	assert.Equal(t, 8, gotNew.SlotTable.NumStaticSlots)
	assert.Equal(t, 8, mgr.Current().SlotTable.NumStaticSlots)
}

func TestManager_UpdateRejectsInvalidConfig(t *testing.T) {
	mgr := NewManager(DefaultConfig(), "")
	bad := DefaultConfig()
	bad.NetQueue.InitialCredit = 0

	err := mgr.Update(bad)
	assert.Error(t, err)
	assert.Equal(t, int32(2), mgr.Current().NetQueue.InitialCredit, "rejected update must not replace current config")
}

func TestManager_ReloadReadsFromFilePath(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"

	original := DefaultConfig()
	require.NoError(t, SaveToFile(original, path))

	mgr := NewManager(DefaultConfig(), path)
	require.NoError(t, mgr.Reload())
	assert.Equal(t, original.SlotTable.NumStaticSlots, mgr.Current().SlotTable.NumStaticSlots)
}

func TestManager_ReloadCollapsesConcurrentCalls(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	require.NoError(t, SaveToFile(DefaultConfig(), path))

	mgr := NewManager(DefaultConfig(), path)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = mgr.Reload()
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestSaveAndLoadConfig_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"

	original := DefaultConfig()
	original.SlotTable.NumStaticSlots = 12
	require.NoError(t, SaveToFile(original, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 12, loaded.SlotTable.NumStaticSlots)
}

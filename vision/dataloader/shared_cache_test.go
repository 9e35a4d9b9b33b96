package dataloader

import (
	"testing"
)

func TestCreateSharedDataLoaders(t *testing.T) {
	trainSet := NewMockDataset(t, 6)
	valSet := NewMockDataset(t, 3)
	aug := &countingAugmenter{}

	config := Config{
		BatchSize:  2,
		ImageSize:  4,
		CacheBytes: 1 << 20,
		Shuffle:    false,
		Seed:       1,
	}

	trainLoader, valLoader, err := CreateSharedDataLoaders(trainSet, valSet, config, aug)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if trainLoader.GetCacheManager() == nil || trainLoader.GetCacheManager() != valLoader.GetCacheManager() {
		t.Error("Expected both loaders to share one cache")
	}
	if !trainLoader.shuffle || valLoader.shuffle {
		t.Error("Expected shuffled training and ordered validation")
	}
	if trainLoader.augmenter == nil || valLoader.augmenter != nil {
		t.Error("Expected augmentation on training only")
	}

	if trainLoader.StepsPerEpoch() != 3 || valLoader.StepsPerEpoch() != 1 {
		t.Errorf("Expected 3 and 1 steps, got %d and %d", trainLoader.StepsPerEpoch(), valLoader.StepsPerEpoch())
	}

	batch, err := valLoader.NextBatch()
	if err != nil {
		t.Fatal(err)
	}
	if batch.Indices[0] != 0 || batch.Indices[1] != 1 {
		t.Errorf("Validation order changed: %v", batch.Indices)
	}
	if aug.augments != 0 {
		t.Errorf("Validation batches must not be augmented, got %d calls", aug.augments)
	}

	if _, err := trainLoader.NextBatch(); err != nil {
		t.Fatal(err)
	}
	if aug.augments != 2 {
		t.Errorf("Expected 2 augment calls, got %d", aug.augments)
	}
}

func TestCreateSharedDataLoadersProvidedCache(t *testing.T) {
	shared := NewCacheManager(1<<20, 4)
	trainLoader, valLoader, err := CreateSharedDataLoaders(
		NewMockDataset(t, 2), NewMockDataset(t, 2),
		Config{BatchSize: 1, ImageSize: 4, CacheManager: shared}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if trainLoader.GetCacheManager() != shared || valLoader.GetCacheManager() != shared {
		t.Error("Expected the provided cache to be used")
	}
}

func TestCreateSharedDataLoadersNoCache(t *testing.T) {
	trainLoader, valLoader, err := CreateSharedDataLoaders(
		NewMockDataset(t, 2), NewMockDataset(t, 2),
		Config{BatchSize: 1, ImageSize: 4}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if trainLoader.GetCacheManager() != nil || valLoader.GetCacheManager() != nil {
		t.Error("Expected caching disabled")
	}
}

func TestCreateSharedDataLoadersInvalid(t *testing.T) {
	_, _, err := CreateSharedDataLoaders(NewMockDataset(t, 1), NewMockDataset(t, 1), Config{ImageSize: 4}, nil)
	if err == nil {
		t.Error("Expected error for zero batch size")
	}
}

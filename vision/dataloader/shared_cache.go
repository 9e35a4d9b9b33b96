package dataloader

// CreateSharedDataLoaders creates the training and validation loaders over a
// single decoded-image cache. The training loader shuffles and applies
// augmenter; the validation loader keeps dataset order and feeds images
// unchanged. config.Shuffle and config.Augmenter are ignored.
func CreateSharedDataLoaders(trainDataset, valDataset Dataset, config Config, augmenter Augmenter) (*DataLoader, *DataLoader, error) {
	sharedCache := config.CacheManager
	if sharedCache == nil && config.CacheBytes > 0 {
		sharedCache = NewCacheManager(config.CacheBytes, config.ImageSize)
	}

	trainConfig := config
	trainConfig.CacheManager = sharedCache
	trainConfig.Shuffle = true
	trainConfig.Augmenter = augmenter
	trainLoader, err := NewDataLoader(trainDataset, trainConfig)
	if err != nil {
		return nil, nil, err
	}

	valConfig := config
	valConfig.CacheManager = sharedCache
	valConfig.Shuffle = false
	valConfig.Augmenter = nil
	valLoader, err := NewDataLoader(valDataset, valConfig)
	if err != nil {
		return nil, nil, err
	}

	return trainLoader, valLoader, nil
}

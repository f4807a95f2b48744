package inference

import (
	"fmt"
	"time"

	"github.com/jo-hoe/faceswap/internal/backend/faces"
)

// NewProvider returns the detector and swapper for the given provider type.
func NewProvider(providerType, baseURL, modelPath string, timeout time.Duration) (faces.Detector, faces.Swapper, error) {
	switch providerType {
	case "", "http":
		client, err := NewClient(baseURL, modelPath, timeout)
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	default:
		return nil, nil, fmt.Errorf("unsupported inference provider: %s", providerType)
	}
}

//go:build !unix

package out

import (
	"context"
	"fmt"

	"attacher/internal/modules/attach/domain"
)

func (c *HotSpotController) discover(_ context.Context, pid int) (string, error) {
	return "", fmt.Errorf("%w: process %d", domain.ErrUnsupportedPlatform, pid)
}

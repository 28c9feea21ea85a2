package app

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"price_stream/internal/domain"
)

// SyncAssets upserts a coin row and downloads an icon for every base asset the
// resolver knows. Existing icon paths are kept.
func (b *Bootstrap) SyncAssets(ctx context.Context) {
	slog.Info("🔄 Starting asset synchronization...")

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, 5) // Limit concurrent downloads

	for _, token := range b.Resolver.BaseAssets() {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			b.syncAsset(ctx, sym)
		}(strings.ToUpper(token))
	}

	wg.Wait()
	slog.Info("✨ Asset synchronization completed")
}

func (b *Bootstrap) syncAsset(ctx context.Context, sym string) {
	coin := &domain.CoinInfo{
		Symbol:    sym,
		Name:      sym,
		IsActive:  true,
		UpdatedAt: time.Now(),
	}
	if existing, _ := b.Storage.GetCoin(sym); existing != nil {
		coin.Name = existing.Name
		coin.IconPath = existing.IconPath
		coin.LastSyncedAt = existing.LastSyncedAt
		coin.CreatedAt = existing.CreatedAt
	}

	if err := b.Storage.UpsertCoin(coin); err != nil {
		slog.Error("Failed to upsert coin", slog.String("symbol", sym), slog.Any("error", err))
		return
	}

	path, err := b.Downloader.DownloadIcon(ctx, sym)
	if err != nil {
		slog.Warn("Failed to download icon", slog.String("symbol", sym), slog.Any("error", err))
		return
	}
	if path != "" && path != coin.IconPath {
		coin.IconPath = path
		coin.LastSyncedAt = time.Now()
		if err := b.Storage.UpsertCoin(coin); err != nil {
			slog.Error("Failed to update icon path", slog.String("symbol", sym), slog.Any("error", err))
		}
	}
}

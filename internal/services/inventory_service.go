package services

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"codeshop/internal/domain"
	"codeshop/internal/repos"
)

const maxUploadLines = 5000

type InventoryService struct {
	Inv   *repos.InventoryRepo
	Prods *repos.ProductRepo
	Log   *zap.Logger
	Now   func() time.Time
}

func NewInventoryService(inv *repos.InventoryRepo, prods *repos.ProductRepo, log *zap.Logger) *InventoryService {
	return &InventoryService{Inv: inv, Prods: prods, Log: log, Now: utcNow}
}

// CheckAvailability converts derived stock into IN_STOCK / LOW_STOCK / OUT_OF_STOCK.
func (s *InventoryService) CheckAvailability(ctx context.Context, productID string) (domain.Availability, error) {
	p, err := s.Prods.Get(ctx, productID)
	if err != nil {
		return domain.Availability{}, err
	}
	n, err := s.Inv.CountAvailable(ctx, productID)
	if err != nil {
		return domain.Availability{}, err
	}
	return domain.AvailabilityOf(p, n), nil
}

func (s *InventoryService) Summary(ctx context.Context) ([]repos.InventoryRow, error) {
	return s.Inv.Summary(ctx)
}

// Upload adds one access code per non-empty line of text to productID's pool.
func (s *InventoryService) Upload(ctx context.Context, productID, text string) (int, error) {
	p, err := s.Prods.Get(ctx, productID)
	if err != nil {
		return 0, err
	}
	if p.ManualDelivery {
		return 0, domain.Invalid("product", "manual-delivery products carry no codes")
	}
	var payloads []map[string]string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		payloads = append(payloads, domain.ParseCodePayload(line))
	}
	if len(payloads) == 0 {
		return 0, domain.Invalid("codes", "no codes given")
	}
	if len(payloads) > maxUploadLines {
		return 0, domain.Invalid("codes", "too many lines")
	}
	n, err := s.Inv.BulkInsert(ctx, productID, payloads, s.Now())
	if err != nil {
		return n, err
	}
	s.Log.Info("inventory: codes uploaded", zap.String("product_id", productID), zap.Int("count", n))
	return n, nil
}

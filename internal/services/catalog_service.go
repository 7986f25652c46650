package services

import (
	"context"

	"codeshop/internal/domain"
	"codeshop/internal/repos"
)

type CatalogService struct {
	Cats  *repos.CategoryRepo
	Prods *repos.ProductRepo
	Inv   *repos.InventoryRepo
}

func NewCatalogService(cats *repos.CategoryRepo, prods *repos.ProductRepo, inv *repos.InventoryRepo) *CatalogService {
	return &CatalogService{Cats: cats, Prods: prods, Inv: inv}
}

func (s *CatalogService) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.Cats.List(ctx)
}

func (s *CatalogService) GetCategory(ctx context.Context, id string) (domain.Category, error) {
	return s.Cats.Get(ctx, id)
}

// Search lists active products with their derived stock.
func (s *CatalogService) Search(ctx context.Context, q, category string, page, pageSize int) ([]domain.ProductView, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 12
	}
	offset := (page - 1) * pageSize
	prods, err := s.Prods.Search(ctx, repos.ProductFilter{Query: q, CategoryID: category, Limit: pageSize, Offset: offset})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(prods))
	for _, p := range prods {
		ids = append(ids, p.ID)
	}
	stock, err := s.Inv.CountAvailableMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProductView, 0, len(prods))
	for _, p := range prods {
		out = append(out, domain.ProductView{Product: p, Stock: stock[p.ID], Availability: domain.AvailabilityOf(p, stock[p.ID])})
	}
	return out, nil
}

// GetProduct returns an active product; inactive ones are reported missing.
func (s *CatalogService) GetProduct(ctx context.Context, id string) (domain.ProductView, error) {
	p, err := s.Prods.Get(ctx, id)
	if err != nil {
		return domain.ProductView{}, err
	}
	if !p.Active {
		return domain.ProductView{}, domain.ErrNotFound
	}
	n, err := s.Inv.CountAvailable(ctx, id)
	if err != nil {
		return domain.ProductView{}, err
	}
	return domain.ProductView{Product: p, Stock: n, Availability: domain.AvailabilityOf(p, n)}, nil
}

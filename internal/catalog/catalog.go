package catalog

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Riooo17/plp-week8-ecommerce-db/internal/db"
)

var (
	// ErrProductNotFound is returned for an unknown SKU or product id
	ErrProductNotFound = errors.New("product not found")

	// ErrProductAlreadyExists is returned when creating a duplicate SKU
	ErrProductAlreadyExists = errors.New("product already exists")

	// ErrCategoryNotFound is returned for an unknown category
	ErrCategoryNotFound = errors.New("category not found")

	// ErrCategoryCycle is returned when a move would make a category its own
	// ancestor
	ErrCategoryCycle = errors.New("category move would create a cycle")
)

// Repository handles the product catalog and the category tree. Order lines
// snapshot product fields at placement time, so catalog edits never rewrite
// history.
type Repository struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewRepository creates a new catalog repository
func NewRepository(database *db.DB, logger *zap.Logger) *Repository {
	return &Repository{db: database.DB, log: logger}
}

// CreateProduct creates a new product
func (r *Repository) CreateProduct(ctx context.Context, p *db.Product) error {
	var existing db.Product
	err := r.db.WithContext(ctx).Where("sku = ?", p.SKU).First(&existing).Error
	if err == nil {
		return ErrProductAlreadyExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		r.log.Error("Failed to create product", zap.String("sku", p.SKU), zap.Error(err))
		return err
	}

	r.log.Info("Product created", zap.String("sku", p.SKU), zap.String("name", p.Name))
	return nil
}

// GetProduct retrieves a product by SKU
func (r *Repository) GetProduct(ctx context.Context, sku string) (*db.Product, error) {
	var p db.Product
	err := r.db.WithContext(ctx).Where("sku = ?", sku).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &p, nil
}

// SetActive toggles whether a product can be ordered
func (r *Repository) SetActive(ctx context.Context, sku string, active bool) error {
	result := r.db.WithContext(ctx).Model(&db.Product{}).
		Where("sku = ?", sku).
		Updates(map[string]interface{}{
			"active":     active,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProductNotFound
	}
	return nil
}

// CreateCategory creates a category, optionally under a parent
func (r *Repository) CreateCategory(ctx context.Context, name string, parentID *uint64) (*db.Category, error) {
	if parentID != nil {
		var parent db.Category
		if err := r.db.WithContext(ctx).Where("id = ?", *parentID).First(&parent).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrCategoryNotFound
			}
			return nil, err
		}
	}

	c := &db.Category{Name: name, ParentID: parentID}
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// MoveCategory reparents a category. The tree must stay acyclic: moving a
// node under itself or any of its descendants is rejected. The walk and the
// update share a transaction so a concurrent move cannot slip a cycle in.
func (r *Repository) MoveCategory(ctx context.Context, categoryID uint64, newParentID *uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c db.Category
		if err := tx.Where("id = ?", categoryID).First(&c).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCategoryNotFound
			}
			return err
		}

		if newParentID != nil {
			if *newParentID == categoryID {
				return ErrCategoryCycle
			}

			// Walk the ancestor chain from the new parent to the root
			cursor := newParentID
			for cursor != nil {
				var node db.Category
				if err := tx.Where("id = ?", *cursor).First(&node).Error; err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						return ErrCategoryNotFound
					}
					return err
				}
				if node.ID == categoryID {
					return ErrCategoryCycle
				}
				cursor = node.ParentID
			}
		}

		return tx.Model(&db.Category{}).
			Where("id = ?", categoryID).
			Update("parent_id", newParentID).Error
	})
}

// AssignCategory links a product to a category
func (r *Repository) AssignCategory(ctx context.Context, productID, categoryID uint64) error {
	return r.db.WithContext(ctx).
		Where(db.ProductCategory{ProductID: productID, CategoryID: categoryID}).
		FirstOrCreate(&db.ProductCategory{ProductID: productID, CategoryID: categoryID}).Error
}

// AddSupplier links a product to a supplier
func (r *Repository) AddSupplier(ctx context.Context, link *db.ProductSupplier) error {
	return r.db.WithContext(ctx).
		Where(db.ProductSupplier{ProductID: link.ProductID, SupplierID: link.SupplierID}).
		FirstOrCreate(link).Error
}

package catalog

import (
	"fmt"
	"time"

	"bookmanager/internal/apperr"
)

// Inventory is the aggregate view of a title derived from its copies. Total
// counts only circulating copies, so a discard or a loss shrinks it.
type Inventory struct {
	Total    int `json:"total"`
	Stock    int `json:"stock"`
	Borrowed int `json:"borrowed"`
	Damaged  int `json:"damaged"`
	Lost     int `json:"lost"`
}

// Count adds one copy in status s to the view.
func (inv *Inventory) Count(s CopyStatus) {
	switch s {
	case CopyAvailable:
		inv.Stock++
		inv.Total++
	case CopyBorrowed:
		inv.Borrowed++
		inv.Total++
	case CopyDamaged:
		inv.Damaged++
	case CopyLost:
		inv.Lost++
	}
}

// Check verifies 0 <= Stock <= Total and that every counter is non-negative.
func (inv Inventory) Check() error {
	if inv.Stock < 0 || inv.Borrowed < 0 || inv.Damaged < 0 || inv.Lost < 0 {
		return fmt.Errorf("negative inventory counter: %+v", inv)
	}
	if inv.Stock > inv.Total || inv.Total != inv.Stock+inv.Borrowed {
		return fmt.Errorf("inventory out of balance: %+v", inv)
	}
	return nil
}

// Barcode formats the barcode of the seq-th copy of a title.
func Barcode(titleID int64, entry time.Time, seq int) string {
	return fmt.Sprintf("BK%06d-%s-%05d", titleID, entry.Format("20060102"), seq)
}

// newCopies builds quantity available copies numbered after lastSeq.
func newCopies(t *Title, quantity, lastSeq int, supplier string, now time.Time) []*Copy {
	notes := ""
	if supplier != "" {
		notes = "purchased from " + supplier
	}
	copies := make([]*Copy, quantity)
	for i := range copies {
		copies[i] = &Copy{
			TitleID:      t.ID,
			Barcode:      Barcode(t.ID, now, lastSeq+i+1),
			Status:       CopyAvailable,
			PriceAtEntry: t.Price,
			EntryDate:    now,
			Notes:        notes,
		}
	}
	return copies
}

// MaxPurchaseQuantity caps the copies one purchase may add.
const MaxPurchaseQuantity = 1000

func validateQuantity(quantity int) error {
	if quantity <= 0 {
		return apperr.Validation("quantity must be positive")
	}
	return nil
}

func validatePurchase(quantity int) error {
	if err := validateQuantity(quantity); err != nil {
		return err
	}
	if quantity > MaxPurchaseQuantity {
		return apperr.Validationf("quantity must be at most %d", MaxPurchaseQuantity)
	}
	return nil
}

// transition validates an administrative copy status change.
func transition(c *Copy, to CopyStatus, hasOpenLoan bool) error {
	if !to.Valid() || to == CopyBorrowed {
		return apperr.Validationf("status must be one of available, damaged, lost")
	}
	if c.Status == CopyBorrowed || hasOpenLoan {
		return apperr.InvalidState("copy is on loan")
	}
	return nil
}

package domain

import "github.com/shopspring/decimal"

// PurchaseItem: строка запроса на покупку.
type PurchaseItem struct {
	ProductID string
	Quantity  int32
}

// PurchaseRequest: упорядоченный список позиций для покупки.
type PurchaseRequest struct {
	Items []PurchaseItem
}

// Validate проверяет запрос до любых удалённых вызовов.
func (r *PurchaseRequest) Validate() []error {
	var errs []error

	if len(r.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, item := range r.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if item.Quantity < 1 {
			errs = append(errs, ErrItemQtyInvalid)
		}
	}

	return errs
}

// ProductSnapshot: состояние товара в каталоге на момент покупки.
type ProductSnapshot struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
}

// Validate проверяет снимок, полученный от каталога.
func (p *ProductSnapshot) Validate() []error {
	var errs []error

	if p.ProductID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if p.UnitPrice.IsNegative() {
		errs = append(errs, ErrItemPriceInvalid)
	}

	return errs
}

// Reserved фиксирует зарезервированную позицию с ценой из снимка.
func (p ProductSnapshot) Reserved(quantity int32) OrderItem {
	return OrderItem{
		ProductID:       p.ProductID,
		ProductName:     p.Name,
		Quantity:        quantity,
		PriceAtPurchase: p.UnitPrice,
	}
}

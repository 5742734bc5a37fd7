package domain

import "github.com/shopspring/decimal"

// LowInventoryThreshold — остаток, начиная с которого товар считается заканчивающимся.
const LowInventoryThreshold = 10

// Product — карточка товара из каталога.
type Product struct {
	ID      string
	Slug    string
	Title   string
	Price   decimal.Decimal
	InStock int
	Sizes   []string
	Images  []string
}

// OffersSize сообщает, продаётся ли товар в указанном размере.
func (p Product) OffersSize(size string) bool {
	for _, s := range p.Sizes {
		if s == size {
			return true
		}
	}
	return false
}

// CoverImage возвращает первое изображение товара.
func (p Product) CoverImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// ProductQuery — фильтр витрины: подстрока в названии или slug без учёта регистра.
// Пустой Term отдаёт весь каталог.
type ProductQuery struct {
	Term  string
	Limit int
}

// ProductStats — агрегаты каталога для админской панели.
type ProductStats struct {
	Total        int
	NoInventory  int
	LowInventory int
}

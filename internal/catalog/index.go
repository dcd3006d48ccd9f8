package catalog

import (
	"sort"

	"catalogsync/internal"
)

// Group is the serving shape of the catalog: products of one category and
// type, in source order.
type Group struct {
	Category string                   `json:"category"`
	Type     string                   `json:"type"`
	Products []internal.ProductRecord `json:"products"`
}

type Index struct {
	ByCode map[string]internal.ProductRecord
	Groups []Group
}

func BuildIndex(products []internal.ProductRecord) *Index {
	idx := &Index{ByCode: make(map[string]internal.ProductRecord, len(products))}

	pos := map[[2]string]int{}
	for _, p := range products {
		idx.ByCode[p.Code] = p

		key := [2]string{p.Category, p.Type}
		i, ok := pos[key]
		if !ok {
			i = len(idx.Groups)
			pos[key] = i
			idx.Groups = append(idx.Groups, Group{Category: p.Category, Type: p.Type})
		}
		idx.Groups[i].Products = append(idx.Groups[i].Products, p)
	}

	sort.SliceStable(idx.Groups, func(i, j int) bool {
		if idx.Groups[i].Category != idx.Groups[j].Category {
			return idx.Groups[i].Category < idx.Groups[j].Category
		}
		return idx.Groups[i].Type < idx.Groups[j].Type
	})
	for _, g := range idx.Groups {
		sort.SliceStable(g.Products, func(i, j int) bool {
			return g.Products[i].SourceOrder < g.Products[j].SourceOrder
		})
	}

	return idx
}

func (idx *Index) Lookup(code string) (internal.ProductRecord, bool) {
	p, ok := idx.ByCode[code]
	return p, ok
}

func (idx *Index) Len() int { return len(idx.ByCode) }

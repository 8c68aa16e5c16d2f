package query

import "github.com/dd0wney/rowdb/internal/storage"

// CatalogIndexes adapts *storage.Catalog to the Planner's IndexSource
// surface.
type CatalogIndexes struct {
	Catalog *storage.Catalog
}

func (c CatalogIndexes) HasIndex(db, table, field string) bool {
	mgr, err := c.Catalog.Indexes(db, table)
	if err != nil {
		return false
	}
	_, ok := mgr.Get(field)
	return ok
}

// Package catalog fetches authoritative book metadata from the Books API,
// the system of record for the search index.
package catalog

// BookDetails is the authoritative book record as served by the Books API.
type BookDetails struct {
	BookID      int64  `json:"book_id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description"`
	ISBN        string `json:"isbn"`
}

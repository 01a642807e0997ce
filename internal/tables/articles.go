package tables

// ArticlesHeader is the column set of the catalog export.
var ArticlesHeader = []string{
	"id", "source", "title", "date", "doi", "peer_reviewed_doi", "authors",
	"license", "source_url", "download_url", "path", "status", "error",
}
